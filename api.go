// Package chainz propagates W3C trace context through an HTTP service and
// exports the resulting spans asynchronously.
//
// chainz covers one hop of a call chain: it extracts the caller's context
// from inbound headers, opens a server span, opens a client span for each
// downstream call, injects that span into the outbound headers, and ships
// finished spans to a collector without blocking request handling.
//
// Core Components:
//   - Extract / Inject: traceparent and tracestate codec over a Carrier.
//   - Tracer: creates spans and scopes the current one in context.Context.
//   - ActiveSpan: lock-guarded handle for an in-flight span.
//   - Exporter: bounded queue, batching, retries, drain on shutdown.
//   - Middleware / Transport: net/http server and client instrumentation.
//
// Basic Usage:
//
//	cfg, err := chainz.LoadConfig("CHAINZ")
//	tracer, err := chainz.Init(cfg, sink, chainz.InitOptions{Logger: logger})
//	defer tracer.Shutdown(ctx)
//
//	handler := chainz.Middleware(tracer)(mux)
//	client := chainz.NewClient(tracer, nil)
//
//	// Inside a handler the server span is current.
//	ctx, span := tracer.StartSpan(r.Context(), "lookup", chainz.KindInternal)
//	defer span.Finish()
//	span.SetTag("user.id", "123")
//
// Thread Safety:
//
// Tracer, ActiveSpan and Exporter are safe for concurrent use. The current
// span lives only in the context.Context of the request that created it, so
// concurrent requests never share one.
//
// Failure Handling:
//
// Malformed headers start a new trace. A full queue drops spans and counts
// them (Exporter.DroppedCount). Failed submissions are retried with
// exponential backoff and then counted lost (Exporter.LostCount). Handler
// and downstream errors are returned exactly as produced.
//
// Resource Cleanup:
//
// Call Tracer.Shutdown to stop background goroutines and drain the exporter.
package chainz
