package sinks

import (
	"context"

	"github.com/zoobzio/chainz"
	"go.uber.org/zap"
)

// Log writes every span of a batch as one structured log line.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a sink logging to logger.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Submit logs the batch. It never fails.
func (l *Log) Submit(_ context.Context, batch chainz.Batch) error {
	for i := range batch.Spans {
		span := &batch.Spans[i]
		fields := []zap.Field{
			zap.String("batch_id", batch.ID),
			zap.String("trace_id", span.TraceID.String()),
			zap.String("span_id", span.SpanID.String()),
			zap.String("operation", span.Name),
			zap.Stringer("kind", span.Kind),
			zap.Duration("duration", span.Duration),
			zap.Stringer("status", span.Status),
		}
		if span.HasParent() {
			fields = append(fields, zap.String("parent_id", span.ParentID.String()))
		}
		if service, ok := batch.Resource["service.name"]; ok {
			fields = append(fields, zap.String("service", service))
		}
		if len(span.Attributes) > 0 {
			fields = append(fields, zap.Any("attributes", span.Attributes))
		}

		if span.Status == chainz.StatusError {
			l.logger.Error("span completed with error", append(fields, zap.String("error", span.StatusMessage))...)
		} else {
			l.logger.Info("span completed", fields...)
		}
	}
	return nil
}

// Shutdown flushes the underlying logger.
func (l *Log) Shutdown(context.Context) error {
	_ = l.logger.Sync()
	return nil
}
