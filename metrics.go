package chainz

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons reported on chainz_spans_dropped_total.
const (
	dropReasonQueueFull = "queue_full"
	dropReasonEvicted   = "evicted"
	dropReasonClosed    = "closed"
)

// Metrics holds the exporter's Prometheus collectors.
type Metrics struct {
	SpansDropped  *prometheus.CounterVec
	SpansExported prometheus.Counter
	SpansLost     prometheus.Counter
	Batches       *prometheus.CounterVec
	Retries       prometheus.Counter
	BatchSize     prometheus.Histogram
}

// NewMetrics creates the exporter metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SpansDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainz_spans_dropped_total",
				Help: "Spans discarded before reaching a batch",
			},
			[]string{"reason"},
		),
		SpansExported: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chainz_spans_exported_total",
				Help: "Spans accepted by the collector sink",
			},
		),
		SpansLost: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chainz_spans_lost_total",
				Help: "Spans discarded after exhausting export retries",
			},
		),
		Batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainz_export_batches_total",
				Help: "Export batches by result",
			},
			[]string{"result"},
		),
		Retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chainz_export_retries_total",
				Help: "Failed batch submissions that were retried",
			},
		),
		BatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chainz_export_batch_size",
				Help:    "Spans per submitted batch",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.SpansDropped, m.SpansExported, m.SpansLost, m.Batches, m.Retries, m.BatchSize)
	}
	return m
}

// registerQueueGauge exposes the live queue length of e.
func registerQueueGauge(reg prometheus.Registerer, e *Exporter) {
	if reg == nil {
		return
	}
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "chainz_export_queue_length",
			Help: "Spans waiting in the export queue",
		},
		func() float64 { return float64(e.QueueLength()) },
	))
}
