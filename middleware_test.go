package chainz

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

var errHandler = errors.New("handler failed")

func TestServeInboundContinuesRemoteTrace(t *testing.T) {
	rec := &recordingExporter{}
	tracer := New(rec)
	defer tracer.Close()

	carrier := MapCarrier{"traceparent": sampleTraceParent, "tracestate": "vendor=v"}

	var current *ActiveSpan
	err := tracer.ServeInbound(context.Background(), "/orders", carrier, func(ctx context.Context) error {
		current = SpanFromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	span, ok := rec.byName("/orders")
	if !ok {
		t.Fatal("Expected server span to be exported")
	}
	if span.Kind != KindServer {
		t.Errorf("Expected server kind, got %s", span.Kind)
	}
	if span.TraceID.String() != sampleTraceID || span.ParentID.String() != sampleSpanID {
		t.Errorf("Expected span to continue remote trace, got trace %s parent %s", span.TraceID, span.ParentID)
	}
	if span.State.String() != "vendor=v" {
		t.Errorf("Expected tracestate to be kept, got %q", span.State)
	}
	if current == nil || current.SpanID() != span.SpanID {
		t.Error("Expected server span to be current inside the handler")
	}
	if span.Attributes[AttrHTTPRoute] != "/orders" {
		t.Errorf("Expected http.route tag, got %v", span.Attributes[AttrHTTPRoute])
	}
}

func TestServeInboundStartsFreshTrace(t *testing.T) {
	for name, carrier := range map[string]Carrier{
		"empty":     MapCarrier{},
		"malformed": MapCarrier{"traceparent": "garbage"},
		"nil":       nil,
	} {
		t.Run(name, func(t *testing.T) {
			rec := &recordingExporter{}
			tracer := New(rec)
			defer tracer.Close()

			_ = tracer.ServeInbound(context.Background(), "/", carrier, func(context.Context) error { return nil })

			span := rec.Spans()[0]
			if !span.TraceID.IsValid() || span.HasParent() {
				t.Errorf("Expected a new root span, got trace %s parent %s", span.TraceID, span.ParentID)
			}
		})
	}
}

func TestServeInboundReturnsHandlerErrorUnchanged(t *testing.T) {
	rec := &recordingExporter{}
	tracer := New(rec)
	defer tracer.Close()

	err := tracer.ServeInbound(context.Background(), "/fail", MapCarrier{}, func(context.Context) error {
		return errHandler
	})
	if err != errHandler { //nolint:errorlint // identity is the point
		t.Errorf("Expected the handler's error value, got %v", err)
	}

	span := rec.Spans()[0]
	if span.Status != StatusError || span.StatusMessage != errHandler.Error() {
		t.Errorf("Expected error status, got %s %q", span.Status, span.StatusMessage)
	}
}

func TestServeInboundFinishesOnPanic(t *testing.T) {
	rec := &recordingExporter{}
	tracer := New(rec)
	defer tracer.Close()

	func() {
		defer func() { _ = recover() }()
		_ = tracer.ServeInbound(context.Background(), "/panic", MapCarrier{}, func(context.Context) error {
			panic("boom")
		})
	}()

	if len(rec.Spans()) != 1 {
		t.Error("Expected server span to be finished on panic")
	}
}

func TestServeInboundMarksCancelledRequests(t *testing.T) {
	rec := &recordingExporter{}
	tracer := New(rec)
	defer tracer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	err := tracer.ServeInbound(ctx, "/slow", MapCarrier{}, func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if span := rec.Spans()[0]; span.Attributes[AttrCancelled] != true {
		t.Error("Expected cancelled tag on span")
	}
}

func TestMiddlewarePassesResponseThrough(t *testing.T) {
	rec := &recordingExporter{}
	tracer := New(rec)
	defer tracer.Close()

	handler := Middleware(tracer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SpanFromContext(r.Context()) == nil {
			t.Error("Expected server span in request context")
		}
		w.Header().Set("X-Handler", "yes")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/pot?size=small", nil)
	req.Header.Set("Traceparent", sampleTraceParent)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTeapot || w.Body.String() != "short and stout" || w.Header().Get("X-Handler") != "yes" {
		t.Errorf("Expected response to pass through unchanged, got %d %q", w.Code, w.Body.String())
	}

	span, ok := rec.byName("/pot")
	if !ok {
		t.Fatal("Expected span named after the path")
	}
	if span.Attributes[AttrHTTPStatus] != int64(http.StatusTeapot) {
		t.Errorf("Expected status tag 418, got %v", span.Attributes[AttrHTTPStatus])
	}
	if span.Attributes[AttrHTTPTarget] != "/pot?size=small" {
		t.Errorf("Expected target tag, got %v", span.Attributes[AttrHTTPTarget])
	}
	if span.Status == StatusError {
		t.Error("Expected 4xx not to mark the span failed")
	}
	if span.ParentID.String() != sampleSpanID {
		t.Errorf("Expected remote parent, got %s", span.ParentID)
	}
}

func TestMiddlewareServerErrorStatus(t *testing.T) {
	rec := &recordingExporter{}
	tracer := New(rec)
	defer tracer.Close()

	handler := Middleware(tracer, WithRouteNamer(func(r *http.Request) string {
		return r.Method + " /items/{id}"
	}))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/7", nil))

	span, ok := rec.byName("GET /items/{id}")
	if !ok {
		t.Fatal("Expected span named by the route namer")
	}
	if span.Status != StatusError {
		t.Errorf("Expected error status for 503, got %s", span.Status)
	}
}

func TestMiddlewareImplicitOK(t *testing.T) {
	rec := &recordingExporter{}
	tracer := New(rec)
	defer tracer.Close()

	handler := Middleware(tracer)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got := rec.Spans()[0].Attributes[AttrHTTPStatus]; got != int64(http.StatusOK) {
		t.Errorf("Expected implicit 200, got %v", got)
	}
}

// plainWriter implements only http.ResponseWriter.
type plainWriter struct {
	header http.Header
	code   int
}

func (p *plainWriter) Header() http.Header         { return p.header }
func (p *plainWriter) Write(b []byte) (int, error) { return len(b), nil }
func (p *plainWriter) WriteHeader(code int)        { p.code = code }

// hijackWriter adds http.Hijacker to plainWriter.
type hijackWriter struct {
	plainWriter
	hijacked bool
}

func (h *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestMiddlewareKeepsWriterCapabilities(t *testing.T) {
	tests := []struct {
		name       string
		writer     http.ResponseWriter
		wantFlush  bool
		wantHijack bool
		wantPush   bool
	}{
		{"plain", &plainWriter{header: http.Header{}}, false, false, false},
		{"recorder", httptest.NewRecorder(), true, false, false},
		{"hijacker", &hijackWriter{plainWriter: plainWriter{header: http.Header{}}}, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer := New(&recordingExporter{})
			defer tracer.Close()

			var gotFlush, gotHijack, gotPush bool
			handler := Middleware(tracer)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, gotFlush = w.(http.Flusher)
				_, gotHijack = w.(http.Hijacker)
				_, gotPush = w.(http.Pusher)
				if gotHijack {
					_, _, _ = w.(http.Hijacker).Hijack()
				}
			}))
			handler.ServeHTTP(tt.writer, httptest.NewRequest(http.MethodGet, "/", nil))

			if gotFlush != tt.wantFlush {
				t.Errorf("Expected Flusher %v, got %v", tt.wantFlush, gotFlush)
			}
			if gotHijack != tt.wantHijack {
				t.Errorf("Expected Hijacker %v, got %v", tt.wantHijack, gotHijack)
			}
			if gotPush != tt.wantPush {
				t.Errorf("Expected Pusher %v, got %v", tt.wantPush, gotPush)
			}
			if hw, ok := tt.writer.(*hijackWriter); ok && !hw.hijacked {
				t.Error("Expected Hijack to reach the original writer")
			}
		})
	}
}

func TestMiddlewareFlushRecordsImplicitOK(t *testing.T) {
	rec := &recordingExporter{}
	tracer := New(rec)
	defer tracer.Close()

	handler := Middleware(tracer)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.(http.Flusher).Flush()
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stream", nil))

	if !w.Flushed {
		t.Error("Expected flush to reach the original writer")
	}
	if got := rec.Spans()[0].Attributes[AttrHTTPStatus]; got != int64(http.StatusOK) {
		t.Errorf("Expected implicit 200, got %v", got)
	}
}
