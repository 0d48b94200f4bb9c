package chainz

import (
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// reaper periodically force-finishes spans that outlived maxLifetime.
type reaper struct {
	tracer      *Tracer
	clock       clockz.Clock
	stop        chan struct{}
	wg          sync.WaitGroup
	maxLifetime time.Duration
	interval    time.Duration
}

// EnableReaper starts tracking live spans and force-finishes any span older
// than maxLifetime, checking every interval. Spans started before the call
// are not tracked.
func (t *Tracer) EnableReaper(maxLifetime, interval time.Duration) error {
	if maxLifetime <= 0 {
		return errors.New("maxLifetime must be > 0")
	}
	if interval <= 0 {
		return errors.New("interval must be > 0")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reaper != nil {
		return errors.New("reaper already enabled")
	}

	r := &reaper{
		tracer:      t,
		clock:       t.clock,
		stop:        make(chan struct{}),
		maxLifetime: maxLifetime,
		interval:    interval,
	}
	t.reaper = r
	t.tracking.Store(true)

	r.wg.Add(1)
	go r.run()
	return nil
}

func (r *reaper) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		case <-r.clock.After(r.interval):
			r.reap()
		}
	}
}

// reap finishes every tracked span started more than maxLifetime ago.
func (r *reaper) reap() int {
	cutoff := r.clock.Now().Add(-r.maxLifetime)
	var n int
	r.tracer.live.Range(func(_, value any) bool {
		active, ok := value.(*ActiveSpan)
		if !ok {
			return true
		}
		if active.StartTime().Before(cutoff) {
			r.tracer.logger.Debug("reaping abandoned span",
				zap.String("trace_id", active.TraceID().String()),
				zap.String("span_id", active.SpanID().String()),
				zap.String("name", active.Name()),
			)
			if active.finish(true) {
				n++
			}
		}
		return true
	})
	if n > 0 {
		r.tracer.reaped.Add(uint64(n))
	}
	return n
}

func (r *reaper) shutdown() {
	close(r.stop)
	r.wg.Wait()
}
