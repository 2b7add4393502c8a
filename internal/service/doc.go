// Package service assembles the tracking stack from configuration.
//
// The HTTP server and the command line tool share one wiring:
//
//	browser.Provider -> sandbox.Pool -> credential.Cache -> tracking.Client
//
// Components:
//   - Bundle provider: fetches the signing bundle from the CDN, or reads it
//     from SIGN_BUNDLE_PATH
//   - Sandbox pool: pre-warmed signing sessions sharing one WASM
//     compilation cache
//   - Credential cache: single-flight generation, optionally shared through
//     Redis when REDIS_ADDR is set
//   - Tracking client: signed, polled upstream lookups
//
// Example Usage:
//
//	svc, err := service.New(cfg, logger, metrics)
//	if err != nil {
//		return err
//	}
//	defer svc.Close()
//	shipment, err := svc.Tracker.Track(ctx, "1Z999AA10123456784", tracking.CarrierAuto)
package service
