/*
Package credential caches the signature the tracking API expects with every
request.

A Credential pairs the signature produced by the browser sandbox with the
device id (_yq_bid) and configs.md5 it was issued under. The Cache keeps one
credential at a time and regenerates it when it expires or when the upstream
rejects it:

	cache := credential.NewCache(credential.Options{
		Signer:  pool,
		Bundles: provider,
		TTL:     time.Hour,
	})
	cred, err := cache.GetOrRefresh(ctx)

Concurrent misses share one generation. A failed generation is not cached;
the next caller tries again. A Store lets several processes share the
credential through Redis.
*/
package credential
