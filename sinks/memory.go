// Package sinks provides collector sinks for the chainz exporter.
package sinks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/chainz"
)

// ErrSimulated is returned by Memory for injected failures.
var ErrSimulated = errors.New("sinks: simulated submit failure")

// Memory keeps submitted batches in memory. Intended for tests and local runs.
// Safe for concurrent use by multiple goroutines.
type Memory struct {
	batches  []chainz.Batch
	failErr  error
	failNext int
	calls    int
	delay    time.Duration
	mu       sync.Mutex
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Submit records the batch unless a failure has been injected.
func (m *Memory) Submit(ctx context.Context, batch chainz.Batch) error {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.failNext != 0 {
		if m.failNext > 0 {
			m.failNext--
		}
		return m.failErr
	}

	spans := make([]chainz.Span, len(batch.Spans))
	copy(spans, batch.Spans)
	batch.Spans = spans
	m.batches = append(m.batches, batch)
	return nil
}

// FailNext makes the next n submissions return err (ErrSimulated when nil).
// A negative n fails every submission.
func (m *Memory) FailNext(n int, err error) {
	if err == nil {
		err = ErrSimulated
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

// SetDelay makes every submission wait d before completing.
func (m *Memory) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Batches returns the accepted batches in submission order.
func (m *Memory) Batches() []chainz.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chainz.Batch, len(m.batches))
	copy(out, m.batches)
	return out
}

// Spans returns every accepted span in submission order.
func (m *Memory) Spans() []chainz.Span {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []chainz.Span
	for _, b := range m.batches {
		out = append(out, b.Spans...)
	}
	return out
}

// Calls returns the number of Submit calls, failed ones included.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// WaitForSpans polls until at least n spans were accepted or timeout passes,
// then returns what it has.
func (m *Memory) WaitForSpans(n int, timeout time.Duration) []chainz.Span {
	deadline := time.Now().Add(timeout)
	for {
		spans := m.Spans()
		if len(spans) >= n || time.Now().After(deadline) {
			return spans
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Reset forgets all batches and injected failures.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = nil
	m.failNext = 0
	m.failErr = nil
	m.calls = 0
}
