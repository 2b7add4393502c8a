// Package client provides the HTTP client shared by the signing-bundle
// fetcher and the tracking client.
//
// Built on go-resty/resty over go-retryablehttp's pooled transport:
//   - Retries only transient failures (connection errors, 429, 5xx)
//   - Circuit breaker that ignores definitive 4xx answers
//   - Optional HTTP(S) proxy set on the transport
//   - gzip and zstd response decoding via klauspost/compress/gzhttp
//   - sonic for JSON bodies
//   - Per-client rate limiting
//
// Example Usage:
//
//	c := client.NewClient(client.DefaultOptions("restapi"))
//	resp, err := c.Do(ctx, func(r *resty.Request) (*resty.Response, error) {
//		return r.SetBody(payload).Post(url)
//	})
package client
