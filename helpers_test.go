package chainz

import (
	"context"
	"sync"
	"time"
)

// recordingExporter collects finished spans in memory.
type recordingExporter struct {
	mu    sync.Mutex
	spans []Span
}

func (r *recordingExporter) Export(span Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, span)
}

func (r *recordingExporter) Spans() []Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Span, len(r.spans))
	copy(out, r.spans)
	return out
}

func (r *recordingExporter) byName(name string) (Span, bool) {
	for _, s := range r.Spans() {
		if s.Name == name {
			return s, true
		}
	}
	return Span{}, false
}

// stubSink is a Sink whose behavior is scripted per call.
type stubSink struct {
	mu      sync.Mutex
	batches []Batch
	calls   int
	submit  func(call int, batch Batch) error
}

func (s *stubSink) Submit(ctx context.Context, batch Batch) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	fn := s.submit
	s.mu.Unlock()

	if fn != nil {
		if err := fn(call, batch); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *stubSink) Batches() []Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Batch, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *stubSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubSink) spanCount() int {
	n := 0
	for _, b := range s.Batches() {
		n += len(b.Spans)
	}
	return n
}

// waitFor polls cond until it holds or timeout passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// testExporterConfig returns a small, fast configuration for tests.
func testExporterConfig() ExporterConfig {
	return ExporterConfig{
		Resource:             map[string]string{"service.name": "test"},
		BatchSize:            10,
		QueueCapacity:        100,
		MaxRetries:           3,
		BatchTimeout:         time.Hour,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
		ExportTimeout:        time.Second,
		DropPolicy:           DropNewest,
	}
}
