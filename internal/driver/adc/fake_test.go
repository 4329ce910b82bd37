package adc

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"adc-service/internal/codec"
	"adc-service/internal/protocol"
)

// step is one scripted receive result: a chunk of bytes or an error.
type step struct {
	data []byte
	err  error
}

// fakeTransport replays scripted receives. onSend may queue further steps
// in reaction to a request, which is how the device side is simulated.
type fakeTransport struct {
	mu      sync.Mutex
	open    bool
	closes  int
	sent    [][]byte
	queue   []step
	sendErr error
	onSend  func(data []byte) []step
}

func (f *fakeTransport) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.closes++
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) Send(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return protocol.ErrNotOpen
	}
	if f.sendErr != nil {
		return fmt.Errorf("%w: %w", protocol.ErrSend, f.sendErr)
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	if f.onSend != nil {
		f.queue = append(f.queue, f.onSend(data)...)
	}
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context, maxBytes int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return nil, protocol.ErrNotOpen
	}
	if len(f.queue) == 0 {
		return nil, fmt.Errorf("%w: nothing scripted", protocol.ErrReceiveTimeout)
	}

	s := &f.queue[0]
	if s.err != nil {
		err := s.err
		f.queue = f.queue[1:]
		return nil, err
	}
	n := min(maxBytes, len(s.data))
	out := append([]byte(nil), s.data[:n]...)
	s.data = s.data[n:]
	if len(s.data) == 0 {
		f.queue = f.queue[1:]
	}
	return out, nil
}

func (f *fakeTransport) Type() protocol.ConnectionType { return protocol.ConnectionTypeTCP }

func (f *fakeTransport) Stats() protocol.ProtocolStats { return protocol.ProtocolStats{} }

func (f *fakeTransport) enqueue(steps ...step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, steps...)
}

// sentCount returns how many requests carried the given command byte.
func (f *fakeTransport) sentCount(cmd byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if len(s) >= 3 && s[0] == 0xAA && s[1] == 0x55 && s[2] == cmd {
			n++
		}
	}
	return n
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestClient(t *testing.T, ft *fakeTransport, logger *zap.Logger) *Client {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}
	c := NewClientWithTransport(Config{
		DeviceID:        "test-adc",
		StopMaxAttempts: 16,
		CheckMarker:     true,
	}, ft, logger)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c
}

// streamFrame builds a valid frame whose first payload bytes repeat seq.
func streamFrame(t *testing.T, seq uint32) []byte {
	t.Helper()
	payload := make([]byte, codec.StreamPayloadSize)
	payload[0], payload[1], payload[2], payload[3] = byte(seq), byte(seq>>8), byte(seq>>16), byte(seq>>24)
	raw, err := codec.EncodeStreamFrame(codec.StreamHeader{
		Marker:   codec.DefaultStreamMarker,
		Mode:     1,
		Sequence: seq,
	}, payload)
	if err != nil {
		t.Fatalf("EncodeStreamFrame: %v", err)
	}
	return raw
}

// chunked splits b into pieces of at most size bytes.
func chunked(b []byte, size int) []step {
	var steps []step
	for len(b) > 0 {
		n := min(size, len(b))
		steps = append(steps, step{data: b[:n]})
		b = b[n:]
	}
	return steps
}
