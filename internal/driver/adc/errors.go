package adc

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCommand is returned for names missing from the command set.
	ErrUnknownCommand = errors.New("adc: unknown command")
	// ErrBusy is returned for commands issued while an acquisition owns the connection.
	ErrBusy = errors.New("adc: acquisition in progress")
	// ErrStopTimeout means the device never confirmed ADC_OFF within the bound.
	ErrStopTimeout = errors.New("adc: stop not acknowledged")
	// ErrAckMismatch matches every *AckMismatchError.
	ErrAckMismatch = errors.New("adc: acknowledgement mismatch")
	// ErrDataLoss matches every *DataLossError.
	ErrDataLoss = errors.New("adc: stream data lost")
)

// AckMismatchError means the device answered a mutating command with
// something other than its acknowledgement.
type AckMismatchError struct {
	Command string
	Want    []byte
	Got     []byte
}

func (e *AckMismatchError) Error() string {
	return fmt.Sprintf("adc: %s: expected ack % X, got % X", e.Command, e.Want, e.Got)
}

func (e *AckMismatchError) Unwrap() error { return ErrAckMismatch }

// DataLossError reports a gap in stream sequence numbers. Frame is the
// zero-based index of the offending frame within the acquisition.
type DataLossError struct {
	Expected uint32
	Actual   uint32
	Frame    int
}

func (e *DataLossError) Error() string {
	return fmt.Sprintf("adc: sequence gap at frame %d: expected %d, got %d", e.Frame, e.Expected, e.Actual)
}

func (e *DataLossError) Unwrap() error { return ErrDataLoss }
