// Package providers groups the adapters that reach outside the process.
//
// Available Providers:
//   - browser: Discovers and downloads the 17track signing bundle (page,
//     webpack runtime, signer chunk and its WASM) and caches it for a TTL
//   - browser/sandbox: Runs the bundle in a goja browser emulation with a
//     wazero WASM bridge and extracts the request signature
//   - http/client: Resty client with rate limiting, circuit breaking and
//     transient-only retries, shared by the CDN and API callers
//
// Example Usage:
//
//	cdn := client.NewClient(client.DefaultOptions("cdn"))
//	bundles := browser.New(cdn, browser.Options{})
//	pool := sandbox.NewPool(sandbox.DefaultConfig(), 1, bundles, logger, metrics)
//	sig, err := pool.Sign(ctx, sandbox.SignContext{})
package providers
