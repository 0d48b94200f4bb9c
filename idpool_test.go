package chainz

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

// TestIDPoolBasicOperation tests basic ID pool functionality.
func TestIDPoolBasicOperation(t *testing.T) {
	factory := func() string { return "test-id" }
	pool := NewIDPool(10, factory)
	defer pool.Close()

	if id := pool.Get(); id != "test-id" {
		t.Errorf("Expected 'test-id', got %s", id)
	}
}

// TestIDPoolEmpty tests that Get falls back to the factory under burst load.
func TestIDPoolEmpty(t *testing.T) {
	var callCount int
	var mu sync.Mutex
	factory := func() int {
		mu.Lock()
		defer mu.Unlock()
		callCount++
		return callCount
	}

	pool := NewIDPool(1, factory)
	defer pool.Close()

	for i := 0; i < 5; i++ {
		pool.Get()
	}

	mu.Lock()
	defer mu.Unlock()
	if callCount < 5 {
		t.Errorf("Expected factory to be called at least 5 times, got %d", callCount)
	}
}

// TestIDPoolConcurrentAccess tests concurrent access to the ID pool.
func TestIDPoolConcurrentAccess(t *testing.T) {
	pool := NewIDPool(50, newSpanID)
	defer pool.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[SpanID]bool)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := pool.Get()
				mu.Lock()
				if seen[id] {
					t.Errorf("Duplicate span ID %s", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

// TestIDPoolCleanShutdown tests that pools shut down cleanly.
func TestIDPoolCleanShutdown(t *testing.T) {
	pool := NewIDPool(10, newTraceID)
	before := runtime.NumGoroutine()

	pool.Close()
	time.Sleep(10 * time.Millisecond)

	if after := runtime.NumGoroutine(); after > before {
		t.Errorf("Goroutine leak detected: %d -> %d", before, after)
	}

	// Multiple closes should be safe, and Get keeps working.
	pool.Close()
	if !pool.Get().IsValid() {
		t.Error("Expected valid ID after close")
	}
}

func TestGeneratedIDsAreNonZero(t *testing.T) {
	for i := 0; i < 100; i++ {
		if !newTraceID().IsValid() {
			t.Fatal("Generated zero trace ID")
		}
		if !newSpanID().IsValid() {
			t.Fatal("Generated zero span ID")
		}
	}
}
