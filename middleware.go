package chainz

import (
	"bufio"
	"context"
	"net"
	"net/http"
)

// ServeInbound wraps one inbound request: the parent is extracted from c, a
// server span named route is started and made current for next, and the span
// is finished when next returns, fails, panics or is cancelled. next's error
// is returned unchanged.
func (t *Tracer) ServeInbound(ctx context.Context, route string, c Carrier, next func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var span *ActiveSpan
	if parent, ok := Extract(c); ok {
		span = t.Start(route, KindServer, &parent)
	} else {
		span = t.Start(route, KindServer, nil)
	}
	span.SetTag(AttrHTTPRoute, route)
	defer span.Finish()

	err := t.WithCurrent(ctx, span, next)
	if err != nil {
		span.RecordError(err)
	}
	if ctx.Err() != nil {
		span.SetBoolTag(AttrCancelled, true)
	}
	return err
}

// RouteNamer derives a span name from a request.
type RouteNamer func(r *http.Request) string

// MiddlewareOption customizes Middleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	namer RouteNamer
}

// WithRouteNamer overrides the default span name, the request path.
func WithRouteNamer(namer RouteNamer) MiddlewareOption {
	return func(c *middlewareConfig) {
		if namer != nil {
			c.namer = namer
		}
	}
}

// Middleware traces every request passing through the returned handler.
func Middleware(t *Tracer, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{
		namer: func(r *http.Request) string { return r.URL.Path },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = t.ServeInbound(r.Context(), cfg.namer(r), HeaderCarrier(r.Header), func(ctx context.Context) error {
				span := SpanFromContext(ctx)
				span.SetTag(AttrHTTPMethod, r.Method)
				span.SetTag(AttrHTTPTarget, r.URL.RequestURI())

				rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
				next.ServeHTTP(rec.wrap(), r.WithContext(ctx))

				span.SetIntTag(AttrHTTPStatus, int64(rec.status))
				if rec.status >= http.StatusInternalServerError {
					span.SetStatus(StatusError, http.StatusText(rec.status))
				}
				return nil
			})
		})
	}
}

// statusRecorder passes everything through to the wrapped writer and only
// remembers the status code.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the original writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// wrap returns rec behind a writer exposing Flush, Hijack and Push only when
// the original writer has them.
func (r *statusRecorder) wrap() http.ResponseWriter {
	_, canFlush := r.ResponseWriter.(http.Flusher)
	_, canHijack := r.ResponseWriter.(http.Hijacker)
	_, canPush := r.ResponseWriter.(http.Pusher)

	f, h, p := flusher{r}, hijacker{r}, pusher{r}
	switch {
	case canFlush && canHijack && canPush:
		return struct {
			*statusRecorder
			flusher
			hijacker
			pusher
		}{r, f, h, p}
	case canFlush && canHijack:
		return struct {
			*statusRecorder
			flusher
			hijacker
		}{r, f, h}
	case canFlush && canPush:
		return struct {
			*statusRecorder
			flusher
			pusher
		}{r, f, p}
	case canHijack && canPush:
		return struct {
			*statusRecorder
			hijacker
			pusher
		}{r, h, p}
	case canFlush:
		return struct {
			*statusRecorder
			flusher
		}{r, f}
	case canHijack:
		return struct {
			*statusRecorder
			hijacker
		}{r, h}
	case canPush:
		return struct {
			*statusRecorder
			pusher
		}{r, p}
	default:
		return r
	}
}

type flusher struct{ r *statusRecorder }

func (f flusher) Flush() {
	f.r.wroteHeader = true
	f.r.ResponseWriter.(http.Flusher).Flush()
}

type hijacker struct{ r *statusRecorder }

func (h hijacker) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return h.r.ResponseWriter.(http.Hijacker).Hijack()
}

type pusher struct{ r *statusRecorder }

func (p pusher) Push(target string, opts *http.PushOptions) error {
	return p.r.ResponseWriter.(http.Pusher).Push(target, opts)
}
