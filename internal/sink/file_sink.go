// internal/sink/file_sink.go
package sink

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"adc-service/internal/codec"
	"adc-service/pkg/driver"
)

// Extension is appended to every capture file name
const Extension = ".adc"

const partialSuffix = ".partial"

var ErrClosed = errors.New("sink: already closed")

// FileSink writes whole stream frames (header and payload) to a capture
// file. Frames go to a .partial file that is renamed on Close and removed
// on Abort, so a finished capture file is always complete.
type FileSink struct {
	path    string
	partial string
	file    *os.File
	w       *bufio.Writer
	frames  int
	done    bool
	mu      sync.Mutex
	logger  *zap.Logger
}

var _ driver.FrameSink = (*FileSink)(nil)

// NewFileSink creates dir if needed and opens <dir>/<name>.adc.partial
func NewFileSink(dir, name string, logger *zap.Logger) (*FileSink, error) {
	if name == "" {
		return nil, fmt.Errorf("sink: capture name is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create output dir: %w", err)
	}

	path := filepath.Join(dir, name+Extension)
	partial := path + partialSuffix
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open capture file: %w", err)
	}

	return &FileSink{
		path:    path,
		partial: partial,
		file:    f,
		w:       bufio.NewWriterSize(f, 8*codec.StreamFrameSize),
		logger:  logger.With(zap.String("component", "file-sink"), zap.String("path", path)),
	}, nil
}

// Path returns the final capture file path
func (s *FileSink) Path() string {
	return s.path
}

// Frames returns the number of frames written so far
func (s *FileSink) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// WriteFrame appends one frame
func (s *FileSink) WriteFrame(header codec.StreamHeader, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrClosed
	}

	raw, err := codec.EncodeStreamFrame(header, payload)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(raw); err != nil {
		return fmt.Errorf("sink: write frame %d: %w", header.Sequence, err)
	}
	s.frames++
	return nil
}

// Close flushes the capture and publishes it under its final name
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true

	if err := s.w.Flush(); err != nil {
		s.discard()
		return fmt.Errorf("sink: flush: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		s.discard()
		return fmt.Errorf("sink: sync: %w", err)
	}
	if err := s.file.Close(); err != nil {
		os.Remove(s.partial)
		return fmt.Errorf("sink: close: %w", err)
	}
	if err := os.Rename(s.partial, s.path); err != nil {
		os.Remove(s.partial)
		return fmt.Errorf("sink: rename: %w", err)
	}

	s.logger.Info("Capture file written", zap.Int("frames", s.frames))
	return nil
}

// Abort discards everything written so far
func (s *FileSink) Abort(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true

	s.logger.Warn("Capture aborted",
		zap.Int("frames", s.frames),
		zap.Error(cause),
	)
	return s.discard()
}

func (s *FileSink) discard() error {
	closeErr := s.file.Close()
	if err := os.Remove(s.partial); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("sink: remove partial capture: %w", err)
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return fmt.Errorf("sink: close: %w", closeErr)
	}
	return nil
}
