package chainz

import (
	"sync"
	"time"
)

// SpanKind describes the role of a span in a call.
type SpanKind int

// Span kinds.
const (
	KindInternal SpanKind = iota
	KindServer
	KindClient
)

// MarshalText encodes the kind by name.
func (k SpanKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k SpanKind) String() string {
	switch k {
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	default:
		return "internal"
	}
}

// StatusCode is the outcome recorded on a span.
type StatusCode int

// Status codes.
const (
	StatusUnset StatusCode = iota
	StatusOK
	StatusError
)

// MarshalText encodes the status by name.
func (c StatusCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "unset"
	}
}

// Well-known attribute keys.
const (
	AttrError        = "error"
	AttrErrorMessage = "error.message"
	AttrAbandoned    = "span.abandoned"
	AttrCancelled    = "request.cancelled"
	AttrHTTPRoute    = "http.route"
	AttrHTTPMethod   = "http.method"
	AttrHTTPTarget   = "http.target"
	AttrHTTPURL      = "http.url"
	AttrHTTPStatus   = "http.status_code"
	AttrPeerName     = "net.peer.name"
)

// Span is a finished unit of work as handed to the exporter.
// Attribute values are string, int64 or bool.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type Span struct {
	Attributes    map[string]any `json:"attributes,omitempty"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	Duration      time.Duration  `json:"duration"`
	State         TraceState     `json:"trace_state,omitempty"`
	Name          string         `json:"name"`
	StatusMessage string         `json:"status_message,omitempty"`
	Kind          SpanKind       `json:"kind"`
	Status        StatusCode     `json:"status"`
	TraceID       TraceID        `json:"trace_id"`
	SpanID        SpanID         `json:"span_id"`
	ParentID      SpanID         `json:"parent_id"`
	Flags         TraceFlags     `json:"flags"`
	ParentRemote  bool           `json:"parent_remote,omitempty"` // Parent came from another process.
}

// HasParent reports whether the span is a child.
func (s *Span) HasParent() bool {
	return s.ParentID.IsValid()
}

// Context returns the propagation identity of the span.
func (s *Span) Context() TraceContext {
	return TraceContext{
		TraceID: s.TraceID,
		SpanID:  s.SpanID,
		Flags:   s.Flags,
		State:   s.State,
	}
}

// clone copies the span, including its attribute map.
func (s *Span) clone() Span {
	c := *s
	if s.Attributes != nil {
		c.Attributes = make(map[string]any, len(s.Attributes))
		for k, v := range s.Attributes {
			c.Attributes[k] = v
		}
	}
	return c
}

// ActiveSpan wraps an in-flight Span with locked mutation and lifecycle.
// Safe for concurrent use by multiple goroutines.
type ActiveSpan struct {
	span     *Span
	tracer   *Tracer
	mu       sync.Mutex
	finished bool
}

// SetTag sets a string attribute. No-op once finished.
func (a *ActiveSpan) SetTag(key, value string) {
	a.set(key, value)
}

// SetIntTag sets an integer attribute. No-op once finished.
func (a *ActiveSpan) SetIntTag(key string, value int64) {
	a.set(key, value)
}

// SetBoolTag sets a boolean attribute. No-op once finished.
func (a *ActiveSpan) SetBoolTag(key string, value bool) {
	a.set(key, value)
}

func (a *ActiveSpan) set(key string, value any) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return
	}
	if a.span.Attributes == nil {
		a.span.Attributes = make(map[string]any)
	}
	a.span.Attributes[key] = value
}

// GetTag returns an attribute value.
func (a *ActiveSpan) GetTag(key string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, ok := a.span.Attributes[key]
	return v, ok
}

// SetStatus records the span outcome. No-op once finished.
func (a *ActiveSpan) SetStatus(code StatusCode, message string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return
	}
	a.span.Status = code
	if code == StatusError {
		a.span.StatusMessage = message
	} else {
		a.span.StatusMessage = ""
	}
}

// RecordError marks the span as failed with err. A nil err is ignored.
func (a *ActiveSpan) RecordError(err error) {
	if err == nil {
		return
	}
	a.SetBoolTag(AttrError, true)
	a.SetTag(AttrErrorMessage, err.Error())
	a.SetStatus(StatusError, err.Error())
}

// Finish ends the span and hands it to the tracer's exporter.
// Safe to call multiple times - subsequent calls are no-ops.
func (a *ActiveSpan) Finish() {
	a.finish(false)
}

// finish reports whether this call ended the span.
func (a *ActiveSpan) finish(abandoned bool) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return false
	}
	a.finished = true

	if abandoned {
		if a.span.Attributes == nil {
			a.span.Attributes = make(map[string]any)
		}
		a.span.Attributes[AttrAbandoned] = true
	}

	end := a.tracer.clock.Now()
	// Wall clocks can step backwards; never report a negative duration.
	if end.Before(a.span.StartTime) {
		end = a.span.StartTime
	}
	a.span.EndTime = end
	a.span.Duration = end.Sub(a.span.StartTime)

	record := a.span.clone()
	a.mu.Unlock()

	a.tracer.finished(record)
	return true
}

// IsFinished reports whether Finish has been called.
func (a *ActiveSpan) IsFinished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finished
}

// TraceID returns the trace ID of this span.
func (a *ActiveSpan) TraceID() TraceID {
	return a.span.TraceID
}

// SpanID returns the span ID of this span.
func (a *ActiveSpan) SpanID() SpanID {
	return a.span.SpanID
}

// ParentID returns the parent span ID, zero for a root span.
func (a *ActiveSpan) ParentID() SpanID {
	return a.span.ParentID
}

// Name returns the operation name.
func (a *ActiveSpan) Name() string {
	return a.span.Name
}

// StartTime returns when the span started.
func (a *ActiveSpan) StartTime() time.Time {
	return a.span.StartTime
}

// Context returns the propagation identity of this span.
func (a *ActiveSpan) Context() TraceContext {
	return a.span.Context()
}
