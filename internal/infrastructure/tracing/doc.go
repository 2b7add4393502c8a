/*
Package tracing provides lightweight request tracing.

# Overview

Each inbound HTTP request gets a trace ID (reused from X-Trace-ID when the
caller supplies one) and a span. The trace ID travels in the request context
down to the tracking client and credential cache so their log lines can be
correlated with the request that caused them.

# Usage

	tracer := tracing.New("track17", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "credential.refresh")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

Spans are buffered (1000) and logged asynchronously; a full buffer drops spans
rather than blocking the request.
*/
package tracing
