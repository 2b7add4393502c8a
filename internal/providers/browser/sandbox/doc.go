/*
Package sandbox runs the 17track signing bundle in an emulated browser.

# Overview

The tracking API only accepts requests carrying a signature that the site's
own JavaScript computes. Each Session evaluates that bundle inside a fresh
goja runtime dressed up as a browser tab, captures the bundler's module
factories, executes the signing module and reads the signature back out.

# Layers

 1. Runtime: goja VM with virtual time, seeded randomness and a timer queue
 2. Environment: window, document, navigator, canvas, WebGL, fetch and friends
 3. Loader: observes webpackChunk_N_E pushes and executes modules on demand
 4. Bridge: WebAssembly on wazero, answering instanceof imports from the
    capability table

# Lifecycle

	Fresh -> EnvironmentInstalled -> AssetsLoaded -> ModuleExecuted -> SignatureExtracted

Any step may end in Failed. Sessions are single-use; Pool keeps installed
sessions ready so signing skips environment setup.

# Usage Example

	pool := sandbox.NewPool(sandbox.DefaultConfig(), 2, fetcher, logger, metrics)
	defer pool.Close()

	sig, err := pool.Sign(ctx, sandbox.SignContext{TrackingNumber: "1Z999AA10123456784"})
	if err != nil {
		logger.Error("signing failed", zap.Error(err))
	}

# Determinism

Canvas, WebGL and navigator values come from Fixtures, the clock and the
random source are injectable, and timers run on virtual time. The same
bundle, fixtures and SignContext always produce the same signature.
*/
package sandbox
