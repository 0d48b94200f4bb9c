package chainz

import (
	"encoding/hex"
	"errors"
)

// TraceID identifies a trace. The zero value is invalid.
type TraceID [16]byte

// SpanID identifies a span within a trace. The zero value is invalid.
type SpanID [8]byte

// TraceFlags carries the W3C trace-flags byte.
type TraceFlags byte

// FlagsSampled is the sampled bit of TraceFlags.
const FlagsSampled TraceFlags = 0x01

var errBadHex = errors.New("chainz: malformed hex identifier")

// IsValid reports whether the ID is non-zero.
func (id TraceID) IsValid() bool {
	return id != TraceID{}
}

// String returns the lowercase hex encoding.
func (id TraceID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText encodes the ID as hex.
func (id TraceID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// IsValid reports whether the ID is non-zero.
func (id SpanID) IsValid() bool {
	return id != SpanID{}
}

// String returns the lowercase hex encoding.
func (id SpanID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText encodes the ID as hex. The zero ID encodes as an empty string.
func (id SpanID) MarshalText() ([]byte, error) {
	if !id.IsValid() {
		return []byte{}, nil
	}
	return []byte(id.String()), nil
}

// IsSampled reports whether the sampled bit is set.
func (f TraceFlags) IsSampled() bool {
	return f&FlagsSampled == FlagsSampled
}

// String returns the two-digit hex encoding.
func (f TraceFlags) String() string {
	return hex.EncodeToString([]byte{byte(f)})
}

// TraceIDFromHex parses a 32 character lowercase hex trace ID.
func TraceIDFromHex(s string) (TraceID, error) {
	var id TraceID
	if err := decodeLowerHex(id[:], s); err != nil {
		return TraceID{}, err
	}
	if !id.IsValid() {
		return TraceID{}, errBadHex
	}
	return id, nil
}

// SpanIDFromHex parses a 16 character lowercase hex span ID.
func SpanIDFromHex(s string) (SpanID, error) {
	var id SpanID
	if err := decodeLowerHex(id[:], s); err != nil {
		return SpanID{}, err
	}
	if !id.IsValid() {
		return SpanID{}, errBadHex
	}
	return id, nil
}

// decodeLowerHex fills dst from s, rejecting uppercase digits and wrong lengths.
func decodeLowerHex(dst []byte, s string) error {
	if len(s) != hex.EncodedLen(len(dst)) {
		return errBadHex
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return errBadHex
		}
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return errBadHex
	}
	return nil
}
