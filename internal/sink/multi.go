// internal/sink/multi.go
package sink

import (
	"errors"

	"adc-service/internal/codec"
	"adc-service/pkg/driver"
)

// Multi forwards every frame to all sinks in order
type Multi []driver.FrameSink

var _ driver.FrameSink = Multi(nil)

// WriteFrame stops at the first failing sink
func (m Multi) WriteFrame(header codec.StreamHeader, payload []byte) error {
	for _, s := range m {
		if err := s.WriteFrame(header, payload); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins their errors
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// Abort aborts every sink and joins their errors
func (m Multi) Abort(cause error) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Abort(cause))
	}
	return errors.Join(errs...)
}
