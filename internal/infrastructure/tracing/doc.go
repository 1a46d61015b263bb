/*
Package tracing provides lightweight request tracing for the shell API.

Each HTTP request gets a span whose IDs travel in the X-Trace-ID and
X-Span-ID headers. Callers that already carry a trace (the webview, a test
harness) pass their IDs in and the span nests under them. Finished spans are
buffered and written to the structured log by a single collector goroutine.

# Usage

	tracer := tracing.New("browser-shell", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "persist")
	defer tracer.Finish(span)

Handlers read the current trace with TraceIDFrom(c.Request.Context()) and
attach it to their error logs.
*/
package tracing
