package chainz

import "context"

// contextKeyType is a private type for context keys to avoid collisions.
type contextKeyType string

const (
	spanKey   contextKeyType = "chainz.span"
	remoteKey contextKeyType = "chainz.remote"
)

// ContextWithSpan returns a copy of ctx in which span is current.
func ContextWithSpan(ctx context.Context, span *ActiveSpan) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if span == nil {
		return ctx
	}
	return context.WithValue(ctx, spanKey, span)
}

// ContextWithRemote returns a copy of ctx carrying an extracted parent.
// A span already current in ctx takes precedence over it.
func ContextWithRemote(ctx context.Context, tc TraceContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if !tc.IsValid() {
		return ctx
	}
	tc.Remote = true
	return context.WithValue(ctx, remoteKey, tc)
}

// SpanFromContext returns the current span, or nil.
func SpanFromContext(ctx context.Context) *ActiveSpan {
	if ctx == nil {
		return nil
	}
	span, _ := ctx.Value(spanKey).(*ActiveSpan)
	return span
}

// TraceContextFromContext returns the identity a new child span would
// inherit: the current span first, then a remote parent.
func TraceContextFromContext(ctx context.Context) (TraceContext, bool) {
	if span := SpanFromContext(ctx); span != nil {
		return span.Context(), true
	}
	if ctx == nil {
		return TraceContext{}, false
	}
	if tc, ok := ctx.Value(remoteKey).(TraceContext); ok {
		return tc, true
	}
	return TraceContext{}, false
}
