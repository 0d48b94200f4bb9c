package sinks

import (
	"context"
	"fmt"
	"sort"

	"github.com/zoobzio/chainz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ScopeName is reported as the instrumentation scope of exported spans.
const ScopeName = "github.com/zoobzio/chainz"

// OTLP ships batches to an OpenTelemetry collector over OTLP/gRPC.
type OTLP struct {
	exporter *otlptrace.Exporter
	conn     *grpc.ClientConn
}

// NewOTLP connects to the collector at endpoint (host:port). The connection
// is plaintext; pass extra dial options for TLS or interceptors.
func NewOTLP(ctx context.Context, endpoint string, dialOpts ...grpc.DialOption) (*OTLP, error) {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, dialOpts...)

	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}

	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	return &OTLP{exporter: exp, conn: conn}, nil
}

// Submit converts and exports the batch.
func (o *OTLP) Submit(ctx context.Context, batch chainz.Batch) error {
	if err := o.exporter.ExportSpans(ctx, ReadOnlySpans(batch)); err != nil {
		return fmt.Errorf("failed to export spans: %w", err)
	}
	return nil
}

// Shutdown stops the exporter and closes the connection.
func (o *OTLP) Shutdown(ctx context.Context) error {
	err := o.exporter.Shutdown(ctx)
	if cerr := o.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadOnlySpans converts a batch into OpenTelemetry SDK spans.
func ReadOnlySpans(batch chainz.Batch) []sdktrace.ReadOnlySpan {
	res := toResource(batch.Resource)
	stubs := make(tracetest.SpanStubs, 0, len(batch.Spans))

	for i := range batch.Spans {
		span := &batch.Spans[i]
		stub := tracetest.SpanStub{
			Name:                 span.Name,
			SpanContext:          toSpanContext(span.TraceID, span.SpanID, span.Flags, span.State, false),
			SpanKind:             toSpanKind(span.Kind),
			StartTime:            span.StartTime,
			EndTime:              span.EndTime,
			Attributes:           toAttributes(span.Attributes),
			Status:               toStatus(span.Status, span.StatusMessage),
			Resource:             res,
			InstrumentationScope: instrumentation.Scope{Name: ScopeName},
		}
		if span.HasParent() {
			stub.Parent = toSpanContext(span.TraceID, span.ParentID, span.Flags, nil, span.ParentRemote)
		}
		stubs = append(stubs, stub)
	}
	return stubs.Snapshots()
}

func toSpanContext(traceID chainz.TraceID, spanID chainz.SpanID, flags chainz.TraceFlags, state chainz.TraceState, remote bool) trace.SpanContext {
	cfg := trace.SpanContextConfig{
		TraceID:    trace.TraceID(traceID),
		SpanID:     trace.SpanID(spanID),
		TraceFlags: trace.TraceFlags(flags),
		Remote:     remote,
	}
	if len(state) > 0 {
		if ts, err := trace.ParseTraceState(state.String()); err == nil {
			cfg.TraceState = ts
		}
	}
	return trace.NewSpanContext(cfg)
}

func toSpanKind(kind chainz.SpanKind) trace.SpanKind {
	switch kind {
	case chainz.KindServer:
		return trace.SpanKindServer
	case chainz.KindClient:
		return trace.SpanKindClient
	default:
		return trace.SpanKindInternal
	}
}

func toStatus(code chainz.StatusCode, msg string) sdktrace.Status {
	switch code {
	case chainz.StatusOK:
		return sdktrace.Status{Code: codes.Ok}
	case chainz.StatusError:
		return sdktrace.Status{Code: codes.Error, Description: msg}
	default:
		return sdktrace.Status{Code: codes.Unset}
	}
}

// toAttributes converts in key order so exports are deterministic.
func toAttributes(attrs map[string]any) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := attrs[k].(type) {
		case string:
			out = append(out, attribute.String(k, v))
		case int64:
			out = append(out, attribute.Int64(k, v))
		case int:
			out = append(out, attribute.Int(k, v))
		case bool:
			out = append(out, attribute.Bool(k, v))
		default:
			out = append(out, attribute.String(k, fmt.Sprint(v)))
		}
	}
	return out
}

func toResource(attrs map[string]string) *resource.Resource {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	return resource.NewSchemaless(kvs...)
}
