// Package logging provides structured logging using uber/zap.
//
// Three configurations are used:
//   - Production (server default): JSON on stdout
//   - Development (LOG_DEV=true or -dev): colored console, debug level
//   - CLI: colored console on stderr, so stdout carries only tracking output
//
// Components receive a named child logger from Component and default to a
// no-op logger when none is given, so library code never writes to a global.
//
// Example Usage:
//
//	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level})
//	cacheLog := logger.Component("credential")
//	cacheLog.Info("credential refreshed", zap.Uint64("generation", gen))
package logging
