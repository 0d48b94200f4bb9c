package chainz

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// SpanExporter receives finished spans. Export must not block.
type SpanExporter interface {
	Export(span Span)
}

// Tracer creates spans and forwards finished ones to a single exporter.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	exporter    SpanExporter
	clock       clockz.Clock
	logger      *zap.Logger
	traceIDPool *IDPool[TraceID]
	spanIDPool  *IDPool[SpanID]
	reaper      *reaper
	live        sync.Map // SpanID -> *ActiveSpan, only while a reaper runs.
	mu          sync.Mutex
	idPoolOnce  sync.Once
	closeOnce   sync.Once
	tracking    atomic.Bool
	reaped      atomic.Uint64
}

// New creates a tracer exporting to exporter. A nil exporter discards spans.
// Uses the real clock for production behavior.
func New(exporter SpanExporter) *Tracer {
	return &Tracer{
		exporter: exporter,
		clock:    clockz.RealClock,
		logger:   zap.NewNop(),
	}
}

// WithClock sets the clock used for span timestamps.
// Enables clock injection for deterministic testing. Call before use.
func (t *Tracer) WithClock(clock clockz.Clock) *Tracer {
	t.clock = clock
	return t
}

// WithLogger sets the logger used for tracer diagnostics. Call before use.
func (t *Tracer) WithLogger(logger *zap.Logger) *Tracer {
	if logger != nil {
		t.logger = logger
	}
	return t
}

// ensureIDPools initializes ID pools if not already created.
func (t *Tracer) ensureIDPools() {
	t.idPoolOnce.Do(func() {
		// Pool size based on number of CPUs for optimal contention balance.
		poolSize := runtime.NumCPU() * 100
		t.traceIDPool = NewIDPool(poolSize, newTraceID)
		t.spanIDPool = NewIDPool(poolSize, newSpanID)
	})
}

// Start creates a span. With a valid parent the span joins the parent's trace;
// otherwise a new sampled trace is started.
func (t *Tracer) Start(name string, kind SpanKind, parent *TraceContext) *ActiveSpan {
	t.ensureIDPools()

	span := &Span{
		Name:      name,
		Kind:      kind,
		SpanID:    t.spanIDPool.Get(),
		StartTime: t.clock.Now(),
	}

	if parent != nil && parent.IsValid() {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
		span.Flags = parent.Flags
		span.State = parent.State
		span.ParentRemote = parent.Remote
	} else {
		span.TraceID = t.traceIDPool.Get()
		span.Flags = FlagsSampled
	}

	active := &ActiveSpan{span: span, tracer: t}
	if t.tracking.Load() {
		t.live.Store(span.SpanID, active)
	}
	return active
}

// StartSpan creates a span whose parent is the current context of ctx and
// returns a context in which the new span is current.
func (t *Tracer) StartSpan(ctx context.Context, name string, kind SpanKind) (context.Context, *ActiveSpan) {
	if ctx == nil {
		ctx = context.Background()
	}

	var span *ActiveSpan
	if parent, ok := TraceContextFromContext(ctx); ok {
		span = t.Start(name, kind, &parent)
	} else {
		span = t.Start(name, kind, nil)
	}
	return ContextWithSpan(ctx, span), span
}

// WithCurrent runs body with span current and returns body's error unchanged.
// The caller's ctx is not modified.
func (*Tracer) WithCurrent(ctx context.Context, span *ActiveSpan, body func(context.Context) error) error {
	return body(ContextWithSpan(ctx, span))
}

// finished is called exactly once per span by ActiveSpan.finish.
func (t *Tracer) finished(record Span) {
	if t.tracking.Load() {
		t.live.Delete(record.SpanID)
	}
	if t.exporter != nil {
		t.exporter.Export(record)
	}
}

// ReapedSpans returns the number of spans force-finished by the reaper.
func (t *Tracer) ReapedSpans() uint64 {
	return t.reaped.Load()
}

// Close stops the reaper and ID pools. It does not shut down the exporter.
func (t *Tracer) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		r := t.reaper
		t.mu.Unlock()
		if r != nil {
			r.shutdown()
		}
		t.ensureIDPools()
		t.traceIDPool.Close()
		t.spanIDPool.Close()
	})
}

// Shutdown closes the tracer and drains its exporter when the exporter
// supports it.
func (t *Tracer) Shutdown(ctx context.Context) error {
	t.Close()
	if s, ok := t.exporter.(interface{ Shutdown(context.Context) error }); ok {
		return s.Shutdown(ctx)
	}
	return nil
}
