package chainz

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	defaultTracer atomic.Pointer[Tracer]
	noopTracer    = New(nil)
)

// InitOptions holds the collaborators Init wires together.
type InitOptions struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// Init validates cfg, builds the exporter pipeline in front of sink, creates
// the tracer and publishes it as the process default.
func Init(cfg Config, sink Sink, opts InitOptions) (*Tracer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	exp, err := NewExporter(cfg.ExporterConfig(), sink,
		WithExporterLogger(logger.Named("exporter")),
		WithRegisterer(opts.Registerer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	t := New(exp).WithLogger(logger.Named("tracer"))
	if cfg.MaxSpanLifetime > 0 {
		if err := t.EnableReaper(cfg.MaxSpanLifetime, cfg.ReapInterval); err != nil {
			return nil, fmt.Errorf("failed to enable reaper: %w", err)
		}
	}

	SetDefault(t)
	logger.Info("tracing initialized",
		zap.String("service", cfg.ServiceName),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("queue_capacity", cfg.QueueCapacity),
		zap.Stringer("drop_policy", cfg.DropPolicy),
	)
	return t, nil
}

// SetDefault publishes t as the process default tracer.
func SetDefault(t *Tracer) {
	defaultTracer.Store(t)
}

// Default returns the process default tracer, or a tracer that discards spans
// when none has been set.
func Default() *Tracer {
	if t := defaultTracer.Load(); t != nil {
		return t
	}
	return noopTracer
}
