package chainz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrExporterClosed is returned by Flush after Shutdown.
var ErrExporterClosed = errors.New("chainz: exporter closed")

// Batch is a group of finished spans submitted to a Sink in one call.
// Resource must be treated as read-only.
type Batch struct {
	Resource map[string]string
	ID       string
	Spans    []Span
}

// Sink transmits batches to a collector. Submit must honor ctx.
// Returning backoff.Permanent(err) skips remaining retries.
type Sink interface {
	Submit(ctx context.Context, batch Batch) error
}

// ExporterConfig controls queueing, batching and retries.
type ExporterConfig struct {
	Resource             map[string]string
	BatchSize            int
	QueueCapacity        int
	MaxRetries           int
	BatchTimeout         time.Duration
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	ExportTimeout        time.Duration
	DropPolicy           DropPolicy
}

// DefaultExporterConfig returns the exporter half of DefaultConfig.
func DefaultExporterConfig() ExporterConfig {
	return DefaultConfig().ExporterConfig()
}

// ExporterOption customizes an Exporter.
type ExporterOption func(*Exporter)

// WithExporterClock sets the clock driving batch timeouts.
func WithExporterClock(clock clockz.Clock) ExporterOption {
	return func(e *Exporter) {
		e.clock = clock
	}
}

// WithExporterLogger sets the exporter logger.
func WithExporterLogger(logger *zap.Logger) ExporterOption {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRegisterer registers the exporter metrics with reg.
func WithRegisterer(reg prometheus.Registerer) ExporterOption {
	return func(e *Exporter) {
		e.registerer = reg
	}
}

// Exporter queues finished spans and ships them to a Sink in batches from a
// single background goroutine. Export never blocks; when the queue is full,
// spans are dropped according to the drop policy and counted.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Exporter struct {
	cfg          ExporterConfig
	sink         Sink
	clock        clockz.Clock
	logger       *zap.Logger
	dropLogger   *zap.Logger
	registerer   prometheus.Registerer
	metrics      *Metrics
	queue        chan Span
	flushCh      chan chan struct{}
	stopCh       chan struct{}
	done         chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownErr  error
	shutdownOnce sync.Once
	intake       sync.RWMutex
	closed       atomic.Bool
	dropped      atomic.Uint64
	lost         atomic.Uint64
	exported     atomic.Uint64
}

// NewExporter validates cfg and starts the export worker.
func NewExporter(cfg ExporterConfig, sink Sink, opts ...ExporterOption) (*Exporter, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: sink must not be nil", ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Exporter{
		cfg:     cfg,
		sink:    sink,
		clock:   clockz.RealClock,
		logger:  zap.NewNop(),
		queue:   make(chan Span, cfg.QueueCapacity),
		flushCh: make(chan chan struct{}),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.dropLogger = e.logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		// One drop line per second, then every hundredth.
		return zapcore.NewSamplerWithOptions(core, time.Second, 1, 100)
	}))
	e.metrics = NewMetrics(e.registerer)
	registerQueueGauge(e.registerer, e)

	go e.run()
	return e, nil
}

func (c ExporterConfig) validate() error {
	var errs []error
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: batch size must be > 0, got %d", ErrInvalidConfig, c.BatchSize))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("%w: queue capacity must be > 0, got %d", ErrInvalidConfig, c.QueueCapacity))
	}
	if c.BatchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: batch timeout must be > 0, got %s", ErrInvalidConfig, c.BatchTimeout))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("%w: max retries must be >= 0, got %d", ErrInvalidConfig, c.MaxRetries))
	}
	if c.RetryInitialInterval <= 0 || c.RetryMaxInterval < c.RetryInitialInterval {
		errs = append(errs, fmt.Errorf("%w: retry intervals must satisfy 0 < initial <= max", ErrInvalidConfig))
	}
	if c.ExportTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: export timeout must be > 0, got %s", ErrInvalidConfig, c.ExportTimeout))
	}
	return errors.Join(errs...)
}

// Export enqueues a finished span without blocking.
func (e *Exporter) Export(span Span) {
	// Holding intake for read keeps a send from landing after Shutdown
	// has closed the queue to new spans.
	e.intake.RLock()
	defer e.intake.RUnlock()

	if e.closed.Load() {
		e.drop(dropReasonClosed, &span)
		return
	}

	select {
	case e.queue <- span:
		return
	default:
	}

	if e.cfg.DropPolicy == DropOldest {
		select {
		case old := <-e.queue:
			e.drop(dropReasonEvicted, &old)
		default:
		}
		select {
		case e.queue <- span:
			return
		default:
		}
	}

	e.drop(dropReasonQueueFull, &span)
}

func (e *Exporter) drop(reason string, span *Span) {
	e.dropped.Add(1)
	e.metrics.SpansDropped.WithLabelValues(reason).Inc()
	e.dropLogger.Debug("span dropped",
		zap.String("reason", reason),
		zap.String("trace_id", span.TraceID.String()),
		zap.String("span_id", span.SpanID.String()),
	)
}

// run is the single consumer of the queue.
func (e *Exporter) run() {
	defer close(e.done)

	batch := make([]Span, 0, e.cfg.BatchSize)
	var timeout <-chan time.Time

	flush := func() {
		timeout = nil
		if len(batch) == 0 {
			return
		}
		e.submit(batch)
		batch = make([]Span, 0, e.cfg.BatchSize)
	}
	add := func(span Span) {
		batch = append(batch, span)
		if len(batch) == 1 {
			timeout = e.clock.After(e.cfg.BatchTimeout)
		}
		if len(batch) >= e.cfg.BatchSize {
			flush()
		}
	}
	drain := func() {
		for {
			select {
			case span := <-e.queue:
				add(span)
			default:
				return
			}
		}
	}

	for {
		select {
		case span := <-e.queue:
			add(span)
		case <-timeout:
			flush()
		case ack := <-e.flushCh:
			drain()
			flush()
			close(ack)
		case <-e.stopCh:
			drain()
			flush()
			return
		}
	}
}

// submit sends one batch with bounded retries. No lock is held here.
func (e *Exporter) submit(spans []Span) {
	batch := Batch{
		ID:       uuid.NewString(),
		Resource: e.cfg.Resource,
		Spans:    spans,
	}
	e.metrics.BatchSize.Observe(float64(len(spans)))

	if e.ctx.Err() != nil {
		e.lose(batch, e.ctx.Err())
		return
	}

	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			e.metrics.Retries.Inc()
		}
		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.ExportTimeout)
		defer cancel()

		err := e.sink.Submit(ctx, batch)
		if err != nil {
			e.logger.Warn("batch submit failed",
				zap.String("batch_id", batch.ID),
				zap.Int("spans", len(batch.Spans)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}

	if err := backoff.Retry(op, e.newBackOff()); err != nil {
		e.lose(batch, err)
		return
	}

	e.exported.Add(uint64(len(spans)))
	e.metrics.SpansExported.Add(float64(len(spans)))
	e.metrics.Batches.WithLabelValues("ok").Inc()
}

func (e *Exporter) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.RetryInitialInterval
	b.MaxInterval = e.cfg.RetryMaxInterval
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.MaxRetries)), e.ctx)
}

func (e *Exporter) lose(batch Batch, err error) {
	n := len(batch.Spans)
	e.lost.Add(uint64(n))
	e.metrics.SpansLost.Add(float64(n))
	e.metrics.Batches.WithLabelValues("failed").Inc()
	e.logger.Warn("batch discarded",
		zap.String("batch_id", batch.ID),
		zap.Int("spans", n),
		zap.Error(err),
	)
}

// Flush submits everything queued so far and waits for it.
func (e *Exporter) Flush(ctx context.Context) error {
	if e.closed.Load() {
		return ErrExporterClosed
	}

	ack := make(chan struct{})
	select {
	case e.flushCh <- ack:
	case <-e.done:
		return ErrExporterClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops intake, submits remaining spans and shuts down the sink if
// it has a Shutdown method. If ctx ends first, pending work is abandoned,
// counted as lost, and ctx's error is returned. Safe to call more than once.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		e.intake.Lock()
		e.closed.Store(true)
		e.intake.Unlock()
		close(e.stopCh)

		select {
		case <-e.done:
		case <-ctx.Done():
			e.logger.Error("exporter drain timed out",
				zap.Int("queued", len(e.queue)),
				zap.Error(ctx.Err()),
			)
			e.shutdownErr = ctx.Err()
			e.cancel()
			<-e.done
		}
		e.cancel()

		for drained := false; !drained; {
			select {
			case span := <-e.queue:
				e.drop(dropReasonClosed, &span)
			default:
				drained = true
			}
		}

		if s, ok := e.sink.(interface{ Shutdown(context.Context) error }); ok {
			if err := s.Shutdown(ctx); err != nil && e.shutdownErr == nil {
				e.shutdownErr = fmt.Errorf("failed to shut down sink: %w", err)
			}
		}
	})
	return e.shutdownErr
}

// QueueLength returns the number of spans waiting to be batched.
func (e *Exporter) QueueLength() int {
	return len(e.queue)
}

// DroppedCount returns the number of spans dropped before batching.
func (e *Exporter) DroppedCount() uint64 {
	return e.dropped.Load()
}

// LostCount returns the number of spans discarded after failed submission.
func (e *Exporter) LostCount() uint64 {
	return e.lost.Load()
}

// ExportedCount returns the number of spans accepted by the sink.
func (e *Exporter) ExportedCount() uint64 {
	return e.exported.Load()
}

// Metrics returns the exporter's Prometheus collectors.
func (e *Exporter) Metrics() *Metrics {
	return e.metrics
}
