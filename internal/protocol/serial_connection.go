// internal/protocol/serial_connection.go
package protocol

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// SerialConnection implements Transport for instruments wired over RS-232 or
// a USB-serial bridge. The framing above it is identical to TCP.
type SerialConnection struct {
	config *SerialConfig
	port   serial.Port
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
	closed bool

	statsMu sync.Mutex
	stats   ProtocolStats

	// openPort is serial.Open; tests replace it.
	openPort func(name string, mode *serial.Mode) (serial.Port, error)
}

// NewSerialConnection creates a new serial connection
func NewSerialConnection(config *SerialConfig, logger *zap.Logger) *SerialConnection {
	return &SerialConnection{
		config: config,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Port),
		),
		openPort: serial.Open,
	}
}

// Open opens the serial port and discards any stale input.
func (sc *SerialConnection) Open(ctx context.Context) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.isOpen {
		return nil
	}
	if sc.closed {
		return fmt.Errorf("%w: %s: port already closed", ErrConnection, sc.config.Port)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sc.logger.Info("Opening serial port",
		zap.Int("baud_rate", sc.config.BaudRate),
		zap.String("parity", sc.config.Parity),
	)

	mode, err := serialMode(sc.config)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnection, sc.config.Port, err)
	}

	port, err := sc.openPort(sc.config.Port, mode)
	if err != nil {
		sc.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrConnection, sc.config.Port, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		sc.logger.Warn("Failed to flush serial input buffer", zap.Error(err))
	}

	sc.port = port
	sc.isOpen = true
	sc.statsMu.Lock()
	sc.stats.IsConnected = true
	sc.stats.LastActivity = time.Now()
	sc.statsMu.Unlock()

	sc.logger.Info("Serial port opened successfully")
	return nil
}

// Close closes the serial port. Idempotent.
func (sc *SerialConnection) Close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	sc.closed = true
	if !sc.isOpen || sc.port == nil {
		return nil
	}

	err := sc.port.Close()
	sc.port = nil
	sc.isOpen = false
	sc.statsMu.Lock()
	sc.stats.IsConnected = false
	sc.statsMu.Unlock()

	if err != nil {
		sc.logger.Warn("Serial port closed with error", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sc.logger.Info("Serial port closed successfully")
	return nil
}

// IsOpen returns whether the connection is open
func (sc *SerialConnection) IsOpen() bool {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return sc.isOpen && sc.port != nil
}

// Send writes the whole buffer to the port.
func (sc *SerialConnection) Send(ctx context.Context, data []byte) error {
	port, err := sc.activePort(ctx)
	if err != nil {
		return err
	}

	startTime := time.Now()
	n, err := port.Write(data)
	if err != nil || n != len(data) {
		sc.recordError()
		sc.logger.Error("Serial send failed",
			zap.Error(err),
			zap.Int("written", n),
			zap.Int("size", len(data)),
			zap.String("payload", hex.EncodeToString(data)),
		)
		if err == nil {
			err = io.ErrShortWrite
		}
		return fmt.Errorf("%w: wrote %d of %d bytes: %w", ErrSend, n, len(data), err)
	}

	sc.statsMu.Lock()
	sc.stats.recordWrite(n, time.Since(startTime))
	sc.statsMu.Unlock()

	sc.logger.Debug("Serial send completed", zap.Int("bytes", n))
	return nil
}

// Receive performs one read. The serial driver reports a timeout as a
// zero-byte read; serial lines have no orderly close, so ErrPeerClosed is
// never returned here.
func (sc *SerialConnection) Receive(ctx context.Context, maxBytes int) ([]byte, error) {
	port, err := sc.activePort(ctx)
	if err != nil {
		return nil, err
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("protocol: invalid receive size %d", maxBytes)
	}

	timeout := sc.config.ReadTimeout
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		timeout = serial.NoTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("%w: set read timeout: %w", ErrConnection, err)
	}

	buffer := make([]byte, maxBytes)
	n, err := port.Read(buffer)
	if err != nil {
		sc.recordError()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if n == 0 {
		sc.recordError()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: no data within %s", ErrReceiveTimeout, timeout)
	}

	sc.statsMu.Lock()
	sc.stats.recordRead(n)
	sc.statsMu.Unlock()
	return buffer[:n], nil
}

// Type returns the transport type
func (sc *SerialConnection) Type() ConnectionType {
	return ConnectionTypeSerial
}

// Stats returns a snapshot of the transport statistics
func (sc *SerialConnection) Stats() ProtocolStats {
	sc.statsMu.Lock()
	defer sc.statsMu.Unlock()
	return sc.stats
}

func (sc *SerialConnection) activePort(ctx context.Context) (serial.Port, error) {
	sc.mutex.RLock()
	port, open := sc.port, sc.isOpen
	sc.mutex.RUnlock()

	if !open || port == nil {
		return nil, ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return port, nil
}

func (sc *SerialConnection) recordError() {
	sc.statsMu.Lock()
	sc.stats.ErrorCount++
	sc.statsMu.Unlock()
}

func serialMode(cfg *SerialConfig) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
	}

	switch cfg.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits: %d", cfg.StopBits)
	}

	switch cfg.Parity {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("unsupported parity: %s", cfg.Parity)
	}

	return mode, nil
}
