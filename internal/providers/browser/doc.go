/*
Package browser fetches the 17track signing bundle.

# Overview

The signer ships as a lazily loaded webpack chunk on static.17track.net. Its
URL only appears inside the webpack runtime, so discovery takes three hops:

 1. Fetch the tracking page and read configs.md5
 2. Locate the webpack runtime (script#_R_, then an XPath search by file
    name, then a plain pattern match)
 3. Read chunk 839's name and hash from the runtime and fetch the chunk,
    along with any .wasm files it refers to

The result is a sandbox.Bundle. Provider implements sandbox.BundleSource and
reuses the last bundle for an hour unless invalidated.

# Local bundles

Options.LocalPath replaces the CDN with a file (the signer chunk) or a
directory holding page.html, .js scripts evaluated in name order and .wasm
assets.

# Usage Example

	p := browser.New(httpClient, browser.Options{Logger: logger})
	bundle, err := p.Bundle(ctx)
	if err != nil {
		return err
	}
*/
package browser
