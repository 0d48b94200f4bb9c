package chainz

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestTracerStartRootSpan(t *testing.T) {
	tracer := New(nil)
	defer tracer.Close()

	span := tracer.Start("root", KindServer, nil)

	if !span.TraceID().IsValid() || !span.SpanID().IsValid() {
		t.Fatal("Expected non-zero identifiers")
	}
	if span.ParentID().IsValid() {
		t.Error("Expected root span to have no parent")
	}
	if !span.Context().Flags.IsSampled() {
		t.Error("Expected new traces to be sampled")
	}
}

func TestTracerStartWithRemoteParent(t *testing.T) {
	tracer := New(nil)
	defer tracer.Close()

	parent, _ := ParseTraceParent(sampleTraceParent)
	parent.State = TraceState{{Key: "vendor", Value: "v"}}

	span := tracer.Start("child", KindServer, &parent)

	if span.TraceID() != parent.TraceID {
		t.Errorf("Expected trace ID %s, got %s", parent.TraceID, span.TraceID())
	}
	if span.ParentID() != parent.SpanID {
		t.Errorf("Expected parent ID %s, got %s", parent.SpanID, span.ParentID())
	}
	if span.SpanID() == parent.SpanID {
		t.Error("Expected a fresh span ID")
	}
	if span.Context().State.String() != "vendor=v" {
		t.Errorf("Expected tracestate to be inherited, got %q", span.Context().State)
	}
}

func TestTracerInvalidParentStartsNewTrace(t *testing.T) {
	tracer := New(nil)
	defer tracer.Close()

	span := tracer.Start("op", KindInternal, &TraceContext{})
	if span.ParentID().IsValid() {
		t.Error("Expected invalid parent to be ignored")
	}
}

func TestTracerStartSpanNesting(t *testing.T) {
	rec := &recordingExporter{}
	tracer := New(rec)
	defer tracer.Close()

	ctx, parent := tracer.StartSpan(context.Background(), "parent", KindServer)
	childCtx, child := tracer.StartSpan(ctx, "child", KindInternal)
	_, grandchild := tracer.StartSpan(childCtx, "grandchild", KindInternal)

	if child.ParentID() != parent.SpanID() || grandchild.ParentID() != child.SpanID() {
		t.Error("Expected parent chain parent -> child -> grandchild")
	}
	if grandchild.TraceID() != parent.TraceID() {
		t.Error("Expected all spans in one trace")
	}
	if SpanFromContext(ctx) != parent {
		t.Error("Expected parent context to be unchanged by child creation")
	}

	grandchild.Finish()
	child.Finish()
	parent.Finish()
	if len(rec.Spans()) != 3 {
		t.Errorf("Expected 3 spans, got %d", len(rec.Spans()))
	}
}

func TestTracerStartSpanFromRemoteContext(t *testing.T) {
	tracer := New(nil)
	defer tracer.Close()

	remote, _ := ParseTraceParent(sampleTraceParent)
	ctx := ContextWithRemote(context.Background(), remote)

	_, span := tracer.StartSpan(ctx, "op", KindServer)
	if span.TraceID() != remote.TraceID || span.ParentID() != remote.SpanID {
		t.Error("Expected remote parent to be used")
	}
}

func TestTracerMarksRemoteParents(t *testing.T) {
	rec := &recordingExporter{}
	tracer := New(rec)
	defer tracer.Close()

	tc, _ := Extract(MapCarrier{"traceparent": sampleTraceParent})
	ctx, server := tracer.StartSpan(ContextWithRemote(context.Background(), tc), "server", KindServer)
	_, child := tracer.StartSpan(ctx, "child", KindInternal)
	child.Finish()
	server.Finish()

	s, _ := rec.byName("server")
	if !s.ParentRemote {
		t.Error("Expected extracted parent to be marked remote")
	}
	c, _ := rec.byName("child")
	if c.ParentRemote {
		t.Error("Expected in-process parent not to be marked remote")
	}
}

func TestTracerWithCurrentScopesSpan(t *testing.T) {
	tracer := New(nil)
	defer tracer.Close()

	outer := context.Background()
	span := tracer.Start("op", KindInternal, nil)

	var inner *ActiveSpan
	err := tracer.WithCurrent(outer, span, func(ctx context.Context) error {
		inner = SpanFromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if inner != span {
		t.Error("Expected span to be current inside body")
	}
	if SpanFromContext(outer) != nil {
		t.Error("Expected caller context to be untouched")
	}
}

func TestTracerWithCurrentReturnsErrorUnchanged(t *testing.T) {
	tracer := New(nil)
	defer tracer.Close()

	want := fmt.Errorf("wrapped: %w", context.Canceled)
	got := tracer.WithCurrent(context.Background(), tracer.Start("op", KindInternal, nil), func(context.Context) error {
		return want
	})
	if got != want { //nolint:errorlint // identity is the point
		t.Errorf("Expected identical error, got %v", got)
	}
}

func TestTracerConcurrentContextsAreIsolated(t *testing.T) {
	rec := &recordingExporter{}
	tracer := New(rec)
	defer tracer.Close()

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, root := tracer.StartSpan(context.Background(), fmt.Sprintf("root-%d", i), KindServer)
			defer root.Finish()

			time.Sleep(time.Millisecond)
			_, child := tracer.StartSpan(ctx, fmt.Sprintf("child-%d", i), KindInternal)
			child.Finish()

			if SpanFromContext(ctx) != root {
				errs <- fmt.Sprintf("worker %d saw a foreign current span", i)
			}
			if child.TraceID() != root.TraceID() || child.ParentID() != root.SpanID() {
				errs <- fmt.Sprintf("worker %d child linked to the wrong parent", i)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}

	traces := map[TraceID]bool{}
	for _, s := range rec.Spans() {
		traces[s.TraceID] = true
	}
	if len(traces) != workers {
		t.Errorf("Expected %d distinct traces, got %d", workers, len(traces))
	}
}

func TestTracerUniqueIDs(t *testing.T) {
	tracer := New(nil)
	defer tracer.Close()

	seen := make(map[SpanID]bool)
	for i := 0; i < 1000; i++ {
		id := tracer.Start("op", KindInternal, nil).SpanID()
		if seen[id] {
			t.Fatalf("Duplicate span ID %s", id)
		}
		seen[id] = true
	}
}

func TestTracerWithClock(t *testing.T) {
	start := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
	tracer := New(nil).WithClock(clockz.NewFakeClockAt(start))
	defer tracer.Close()

	span := tracer.Start("op", KindInternal, nil)
	if !span.StartTime().Equal(start) {
		t.Errorf("Expected start %v, got %v", start, span.StartTime())
	}
}

func TestTracerShutdownWithoutExporter(t *testing.T) {
	tracer := New(nil)
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	tracer.Close()

	// Span creation still works after close; pools fall back to the factory.
	if !tracer.Start("late", KindInternal, nil).SpanID().IsValid() {
		t.Error("Expected valid span after close")
	}
}

func TestContextHelpers(t *testing.T) {
	if SpanFromContext(context.Background()) != nil {
		t.Error("Expected no span in empty context")
	}
	if _, ok := TraceContextFromContext(context.Background()); ok {
		t.Error("Expected no trace context in empty context")
	}

	ctx := ContextWithRemote(context.Background(), TraceContext{})
	if _, ok := TraceContextFromContext(ctx); ok {
		t.Error("Expected invalid remote context to be ignored")
	}
}
