/*
Package monitoring provides Prometheus metrics for the tracking service.

# Overview

Metrics cover the HTTP front-end, tracking lookups, upstream calls, the
credential cache and the signing sandbox. Each Metrics value owns its own
registry, exposed on /metrics; a small snapshot backs the JSON /api/metrics
endpoint.

# Usage

	metrics := monitoring.NewMetrics()
	defer metrics.Close()

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", monitoring.Handler(metrics))

	timer := monitoring.NewTimer(metrics, "execute")
	// ... run stage ...
	timer.Stop()

All recording methods accept a nil *Metrics.
*/
package monitoring
