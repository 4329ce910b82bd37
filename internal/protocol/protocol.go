// internal/protocol/protocol.go
package protocol

import (
	"context"
	"time"
)

// ConnectionType names the physical link to an instrument.
type ConnectionType string

const (
	ConnectionTypeTCP    ConnectionType = "TCP"
	ConnectionTypeSerial ConnectionType = "SERIAL"
)

// Transport is a raw byte pipe to one instrument.
//
// Receive performs a single read: it may return fewer than maxBytes. A read
// that sees no data before the deadline fails with ErrReceiveTimeout, an
// orderly close by the peer fails with ErrPeerClosed.
type Transport interface {
	// Connection lifecycle
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	// Data communication
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context, maxBytes int) ([]byte, error)

	// Transport information
	Type() ConnectionType
	Stats() ProtocolStats
}

// ProtocolStats provides transport-level statistics
type ProtocolStats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	OperationCount int64         `json:"operation_count"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
	IsConnected    bool          `json:"is_connected"`
}

func (s *ProtocolStats) recordWrite(n int, latency time.Duration) {
	s.BytesWritten += int64(n)
	s.OperationCount++
	s.LastActivity = time.Now()
	if s.AverageLatency == 0 {
		s.AverageLatency = latency
	} else {
		s.AverageLatency = (s.AverageLatency + latency) / 2
	}
}

func (s *ProtocolStats) recordRead(n int) {
	s.BytesRead += int64(n)
	s.OperationCount++
	s.LastActivity = time.Now()
}
