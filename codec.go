package chainz

import (
	"errors"
	"net/http"
	"strings"
)

// Propagation header keys. Lookups ignore case.
const (
	TraceParentHeader = "traceparent"
	TraceStateHeader  = "tracestate"
)

const (
	traceParentLen   = 55
	maxStateMembers  = 32
	maxStateKeyLen   = 256
	maxStateValueLen = 256
)

var errBadTraceState = errors.New("chainz: malformed tracestate")

// Member is one vendor entry of a TraceState.
type Member struct {
	Key   string
	Value string
}

// TraceState is the ordered vendor list carried in the tracestate header.
// Values are immutable; mutating methods return a copy.
type TraceState []Member

// TraceContext is the propagated identity of a span.
type TraceContext struct {
	State   TraceState
	TraceID TraceID
	SpanID  SpanID
	Flags   TraceFlags
	Remote  bool // Set by Extract.
}

// IsValid reports whether both identifiers are set.
func (tc TraceContext) IsValid() bool {
	return tc.TraceID.IsValid() && tc.SpanID.IsValid()
}

// TraceParent formats the context as a version 00 traceparent value.
func (tc TraceContext) TraceParent() string {
	var b strings.Builder
	b.Grow(traceParentLen)
	b.WriteString("00-")
	b.WriteString(tc.TraceID.String())
	b.WriteByte('-')
	b.WriteString(tc.SpanID.String())
	b.WriteByte('-')
	b.WriteString(tc.Flags.String())
	return b.String()
}

// Carrier is a flat key-value view of message headers.
type Carrier interface {
	Get(key string) string
	Set(key, value string)
}

// MapCarrier adapts a plain map. Get and Set match keys case-insensitively.
type MapCarrier map[string]string

// Get returns the value for key, ignoring case.
func (m MapCarrier) Get(key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// Set replaces every case variant of key with a single lowercase entry.
func (m MapCarrier) Set(key, value string) {
	m.Del(key)
	m[strings.ToLower(key)] = value
}

// Del removes every case variant of key.
func (m MapCarrier) Del(key string) {
	for k := range m {
		if strings.EqualFold(k, key) {
			delete(m, k)
		}
	}
}

// HeaderCarrier adapts http.Header.
type HeaderCarrier http.Header

// Get returns the first value for key. Repeated tracestate lines are joined
// into one list.
func (h HeaderCarrier) Get(key string) string {
	if strings.EqualFold(key, TraceStateHeader) {
		return strings.Join(http.Header(h).Values(key), ",")
	}
	return http.Header(h).Get(key)
}

// Set replaces the values for key.
func (h HeaderCarrier) Set(key, value string) {
	http.Header(h).Set(key, value)
}

// Del removes key.
func (h HeaderCarrier) Del(key string) {
	http.Header(h).Del(key)
}

type deleter interface {
	Del(key string)
}

// Extract reads a trace context from c.
// Missing or malformed headers yield false, never an error.
func Extract(c Carrier) (TraceContext, bool) {
	if c == nil {
		return TraceContext{}, false
	}

	tc, ok := ParseTraceParent(c.Get(TraceParentHeader))
	if !ok {
		return TraceContext{}, false
	}

	// A broken tracestate does not invalidate the traceparent.
	if state, err := ParseTraceState(c.Get(TraceStateHeader)); err == nil {
		tc.State = state
	}
	tc.Remote = true
	return tc, true
}

// Inject writes tc into c, overwriting any previous propagation headers.
// Invalid contexts are not written.
func Inject(tc TraceContext, c Carrier) {
	if c == nil || !tc.IsValid() {
		return
	}

	c.Set(TraceParentHeader, tc.TraceParent())

	if len(tc.State) > 0 {
		c.Set(TraceStateHeader, tc.State.String())
		return
	}
	if d, ok := c.(deleter); ok {
		d.Del(TraceStateHeader)
	}
}

// ParseTraceParent parses a traceparent header value.
func ParseTraceParent(value string) (TraceContext, bool) {
	value = strings.TrimSpace(value)
	if len(value) < traceParentLen {
		return TraceContext{}, false
	}
	if value[2] != '-' || value[35] != '-' || value[52] != '-' {
		return TraceContext{}, false
	}

	var version [1]byte
	if err := decodeLowerHex(version[:], value[0:2]); err != nil || version[0] == 0xff {
		return TraceContext{}, false
	}
	switch {
	case version[0] == 0 && len(value) != traceParentLen:
		return TraceContext{}, false
	case len(value) > traceParentLen && value[traceParentLen] != '-':
		// Future versions may append fields after a delimiter.
		return TraceContext{}, false
	}

	traceID, err := TraceIDFromHex(value[3:35])
	if err != nil {
		return TraceContext{}, false
	}
	spanID, err := SpanIDFromHex(value[36:52])
	if err != nil {
		return TraceContext{}, false
	}
	var flags [1]byte
	if err := decodeLowerHex(flags[:], value[53:55]); err != nil {
		return TraceContext{}, false
	}

	return TraceContext{
		TraceID: traceID,
		SpanID:  spanID,
		Flags:   TraceFlags(flags[0]),
	}, true
}

// ParseTraceState parses a tracestate header value.
// An empty value yields an empty state. Duplicate keys keep the first entry.
func ParseTraceState(value string) (TraceState, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	var state TraceState
	seen := make(map[string]struct{})
	for _, raw := range strings.Split(value, ",") {
		raw = strings.Trim(raw, " \t")
		if raw == "" {
			continue
		}
		key, val, ok := strings.Cut(raw, "=")
		if !ok || !validStateKey(key) || !validStateValue(val) {
			return nil, errBadTraceState
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		state = append(state, Member{Key: key, Value: val})
	}
	if len(state) > maxStateMembers {
		return nil, errBadTraceState
	}
	return state, nil
}

// String formats the state as a tracestate header value.
func (ts TraceState) String() string {
	var b strings.Builder
	for i, m := range ts {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(m.Key)
		b.WriteByte('=')
		b.WriteString(m.Value)
	}
	return b.String()
}

// MarshalText encodes the state in header form.
func (ts TraceState) MarshalText() ([]byte, error) {
	return []byte(ts.String()), nil
}

// Get returns the value for key.
func (ts TraceState) Get(key string) (string, bool) {
	for _, m := range ts {
		if m.Key == key {
			return m.Value, true
		}
	}
	return "", false
}

// Insert returns a copy with key set to value and moved to the front.
// The oldest member is evicted when the list is full.
func (ts TraceState) Insert(key, value string) (TraceState, error) {
	if !validStateKey(key) || !validStateValue(value) {
		return ts, errBadTraceState
	}

	out := make(TraceState, 0, len(ts)+1)
	out = append(out, Member{Key: key, Value: value})
	for _, m := range ts {
		if m.Key != key {
			out = append(out, m)
		}
	}
	if len(out) > maxStateMembers {
		out = out[:maxStateMembers]
	}
	return out, nil
}

// validStateKey accepts simple keys and tenant@system keys.
func validStateKey(key string) bool {
	if key == "" || len(key) > maxStateKeyLen {
		return false
	}
	tenant, system, multi := strings.Cut(key, "@")
	if multi {
		return validKeyPart(tenant, true) && validKeyPart(system, false) && !strings.Contains(system, "@")
	}
	return validKeyPart(key, false)
}

func validKeyPart(s string, allowDigitFirst bool) bool {
	if s == "" {
		return false
	}
	first := s[0]
	if !(first >= 'a' && first <= 'z') && !(allowDigitFirst && first >= '0' && first <= '9') {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '_', c == '-', c == '*', c == '/':
		default:
			return false
		}
	}
	return true
}

func validStateValue(v string) bool {
	if v == "" || len(v) > maxStateValueLen || v[len(v)-1] == ' ' {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c < 0x20 || c > 0x7e || c == ',' || c == '=' {
			return false
		}
	}
	return true
}
