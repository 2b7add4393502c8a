// Package http provides HTTP handlers and routing for the tracking REST API.
//
// This package implements the endpoints using the Gin framework. Handlers
// depend on a Tracker so they can be exercised without the upstream.
//
// Endpoints:
//   - Health: / and /health
//   - Tracking: /api/track, /api/track/batch
//   - Metrics: /api/metrics (JSON snapshot)
//
// Every response carries a "success" flag. Failures carry "error" and, for
// tracking failures, the HTTP status the failure kind maps to.
//
// Example Usage:
//
//	handlers := http.NewHandlers(trackerClient, credentialCache, metrics)
//	router.GET("/health", handlers.Health)
//	router.POST("/api/track", handlers.Track)
package http
