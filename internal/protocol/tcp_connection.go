// internal/protocol/tcp_connection.go
package protocol

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TCPConnection implements Transport over a single TCP stream.
// A connection is never reused: once closed it refuses to reopen.
type TCPConnection struct {
	config *TCPConfig
	conn   net.Conn
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
	closed bool

	statsMu sync.Mutex
	stats   ProtocolStats
}

// NewTCPConnection creates a new TCP connection
func NewTCPConnection(config *TCPConfig, logger *zap.Logger) *TCPConnection {
	return &TCPConnection{
		config: config,
		logger: logger.With(
			zap.String("protocol", "tcp"),
			zap.String("host", config.Host),
			zap.Int("port", config.Port),
		),
	}
}

// Address returns host:port of the instrument.
func (tc *TCPConnection) Address() string {
	return net.JoinHostPort(tc.config.Host, strconv.Itoa(tc.config.Port))
}

// Open dials the instrument. Failures are returned as ErrConnection and are
// never retried here.
func (tc *TCPConnection) Open(ctx context.Context) error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if tc.isOpen {
		return nil
	}
	if tc.closed {
		return fmt.Errorf("%w: %s: connection already closed", ErrConnection, tc.Address())
	}

	tc.logger.Info("Opening TCP connection",
		zap.Duration("connect_timeout", tc.config.ConnectTimeout),
		zap.Duration("read_timeout", tc.config.ReadTimeout),
	)

	dialer := &net.Dialer{
		Timeout: tc.config.ConnectTimeout,
	}
	if tc.config.KeepAlive {
		dialer.KeepAlive = 30 * time.Second
	} else {
		dialer.KeepAlive = -1
	}

	address := tc.Address()
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		tc.logger.Error("Failed to open TCP connection", zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrConnection, address, err)
	}

	tc.conn = conn
	tc.isOpen = true
	tc.statsMu.Lock()
	tc.stats.IsConnected = true
	tc.stats.LastActivity = time.Now()
	tc.statsMu.Unlock()

	tc.logger.Info("TCP connection opened successfully",
		zap.String("local_addr", conn.LocalAddr().String()),
	)
	return nil
}

// Close closes the TCP connection. It is idempotent and safe on a
// connection that was never opened.
func (tc *TCPConnection) Close() error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	tc.closed = true
	if !tc.isOpen || tc.conn == nil {
		return nil
	}

	err := tc.conn.Close()
	tc.conn = nil
	tc.isOpen = false
	tc.statsMu.Lock()
	tc.stats.IsConnected = false
	tc.statsMu.Unlock()

	if err != nil {
		tc.logger.Warn("TCP connection closed with error", zap.Error(err))
		return fmt.Errorf("failed to close TCP connection: %w", err)
	}

	tc.logger.Info("TCP connection closed successfully")
	return nil
}

// IsOpen returns whether the connection is open
func (tc *TCPConnection) IsOpen() bool {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()
	return tc.isOpen && tc.conn != nil
}

// Send writes the whole buffer. A failed or partial write is logged with the
// attempted payload and returned as ErrSend; the connection is not redialed.
func (tc *TCPConnection) Send(ctx context.Context, data []byte) error {
	conn, err := tc.activeConn(ctx)
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(deadline(ctx, tc.config.WriteTimeout))
	stop := context.AfterFunc(ctx, func() { conn.SetWriteDeadline(time.Now()) })
	defer stop()

	startTime := time.Now()
	n, err := conn.Write(data)
	if err != nil || n != len(data) {
		tc.recordError()
		tc.logger.Error("TCP send failed",
			zap.Error(err),
			zap.Int("written", n),
			zap.Int("size", len(data)),
			zap.String("payload", hex.EncodeToString(data)),
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err == nil {
			err = io.ErrShortWrite
		}
		return fmt.Errorf("%w: wrote %d of %d bytes: %w", ErrSend, n, len(data), err)
	}

	tc.statsMu.Lock()
	tc.stats.recordWrite(n, time.Since(startTime))
	tc.statsMu.Unlock()

	tc.logger.Debug("TCP send completed", zap.Int("bytes", n))
	return nil
}

// Receive performs one read of at most maxBytes, bounded by the read timeout
// and by ctx.
func (tc *TCPConnection) Receive(ctx context.Context, maxBytes int) ([]byte, error) {
	conn, err := tc.activeConn(ctx)
	if err != nil {
		return nil, err
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("protocol: invalid receive size %d", maxBytes)
	}

	conn.SetReadDeadline(deadline(ctx, tc.config.ReadTimeout))
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	buffer := make([]byte, maxBytes)
	n, err := conn.Read(buffer)
	if n > 0 {
		tc.statsMu.Lock()
		tc.stats.recordRead(n)
		tc.statsMu.Unlock()
		return buffer[:n], nil
	}

	tc.recordError()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, classifyReadError(err, tc.config.ReadTimeout)
}

// Type returns the transport type
func (tc *TCPConnection) Type() ConnectionType {
	return ConnectionTypeTCP
}

// Stats returns a snapshot of the transport statistics
func (tc *TCPConnection) Stats() ProtocolStats {
	tc.statsMu.Lock()
	defer tc.statsMu.Unlock()
	return tc.stats
}

func (tc *TCPConnection) activeConn(ctx context.Context) (net.Conn, error) {
	tc.mutex.RLock()
	conn, open := tc.conn, tc.isOpen
	tc.mutex.RUnlock()

	if !open || conn == nil {
		return nil, ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return conn, nil
}

func (tc *TCPConnection) recordError() {
	tc.statsMu.Lock()
	tc.stats.ErrorCount++
	tc.statsMu.Unlock()
}

// deadline picks the earlier of now+timeout and the context deadline.
// A zero result clears the deadline.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

func classifyReadError(err error, timeout time.Duration) error {
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return ErrPeerClosed
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: no data within %s", ErrReceiveTimeout, timeout)
	default:
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
}
