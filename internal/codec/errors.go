package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode matches every *DecodeError.
	ErrDecode = errors.New("codec: decode failed")
	// ErrValue matches every *ValueError.
	ErrValue = errors.New("codec: invalid value")
)

// DecodeError reports bytes that do not match the expected frame shape.
type DecodeError struct {
	What   string
	Want   int
	Got    int
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("codec: %s: %s", e.What, e.Reason)
	}
	return fmt.Sprintf("codec: %s: expected %d bytes, got %d", e.What, e.Want, e.Got)
}

func (e *DecodeError) Unwrap() error { return ErrDecode }

// ValueError reports a caller-supplied value that cannot be encoded.
// It is always returned before any byte reaches the wire.
type ValueError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValueError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("codec: %s", e.Reason)
	}
	return fmt.Sprintf("codec: field %q = %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValueError) Unwrap() error { return ErrValue }
