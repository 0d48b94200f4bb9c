package chainz

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

// IDPool keeps a buffer of pre-generated IDs to amortize crypto/rand overhead.
type IDPool[T comparable] struct {
	factory func() T
	ids     chan T
	stopCh  chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewIDPool creates a pool with the given capacity and starts refilling it.
func NewIDPool[T comparable](capacity int, factory func() T) *IDPool[T] {
	pool := &IDPool[T]{
		ids:     make(chan T, capacity),
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	go pool.refill()
	return pool
}

// Get retrieves an ID from the pool or generates one if the pool is empty.
func (p *IDPool[T]) Get() T {
	select {
	case id := <-p.ids:
		return id
	default:
		// Burst load drains the buffer; generate inline.
		return p.factory()
	}
}

func (p *IDPool[T]) refill() {
	for {
		select {
		case <-p.stopCh:
			return
		case p.ids <- p.factory():
		}
	}
}

// Close stops the refill goroutine. Get keeps working afterwards.
func (p *IDPool[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}

// newTraceID draws a random non-zero trace ID.
func newTraceID() TraceID {
	var id TraceID
	for !id.IsValid() {
		if _, err := rand.Read(id[:]); err != nil {
			// Fallback to a time-based ID if crypto/rand fails.
			binary.BigEndian.PutUint64(id[8:], uint64(time.Now().UnixNano()))
		}
	}
	return id
}

// newSpanID draws a random non-zero span ID.
func newSpanID() SpanID {
	var id SpanID
	for !id.IsValid() {
		if _, err := rand.Read(id[:]); err != nil {
			binary.BigEndian.PutUint64(id[:], uint64(time.Now().UnixNano()))
		}
	}
	return id
}
