// internal/driver/adc/client.go
package adc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"adc-service/internal/codec"
	"adc-service/internal/protocol"
	"adc-service/internal/utils"
	"adc-service/pkg/driver"
)

// CallState tracks one request/response exchange.
type CallState int

const (
	CallIdle CallState = iota
	CallSent
	CallAwaitingResponse
	CallValidated
	CallFailed
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "IDLE"
	case CallSent:
		return "SENT"
	case CallAwaitingResponse:
		return "AWAITING_RESPONSE"
	case CallValidated:
		return "VALIDATED"
	case CallFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Config configures one instrument client
type Config struct {
	DeviceID  string
	Model     string
	Transport protocol.Config
	Commands  *CommandSet

	// StopMaxAttempts bounds the receive calls spent waiting for the
	// ADC_OFF acknowledgement; StopTimeout bounds their total duration.
	StopMaxAttempts int
	StopTimeout     time.Duration

	// CheckMarker enables validation of the 6 stream marker bytes.
	CheckMarker  bool
	StreamMarker [codec.MarkerSize]byte

	// ProgressEvery controls how often OnAcquisitionProgress fires.
	ProgressEvery int
}

const (
	defaultStopMaxAttempts = 64
	defaultStopTimeout     = 10 * time.Second
	defaultProgressEvery   = 16
)

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "ADC"
	}
	if c.Commands == nil {
		c.Commands = DefaultCommands()
	}
	if c.StopMaxAttempts <= 0 {
		c.StopMaxAttempts = defaultStopMaxAttempts
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	if c.StreamMarker == ([codec.MarkerSize]byte{}) {
		c.StreamMarker = codec.DefaultStreamMarker
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = defaultProgressEvery
	}
}

// Client implements driver.DeviceDriver for ADC instruments. It owns at most
// one transport at a time; a transport is never reopened after Disconnect.
type Client struct {
	config       Config
	newTransport func() (protocol.Transport, error)
	logger       *utils.DeviceLogger

	// mu serializes exchanges on the wire.
	mu sync.Mutex

	stateMu       sync.RWMutex
	idle          *sync.Cond // signalled on stateMu when pending drops
	pending       int        // admitted exchanges not yet finished
	transport     protocol.Transport
	callState     CallState
	acqState      AcquisitionState
	eventHandler  driver.EventHandler
	healthMetrics driver.HealthMetrics
}

var _ driver.DeviceDriver = (*Client)(nil)

// NewClient creates a client that dials a fresh transport on every Connect.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := protocol.ValidateConfig(cfg.Transport); err != nil {
		return nil, fmt.Errorf("invalid transport configuration: %w", err)
	}
	return newClient(cfg, logger, func() (protocol.Transport, error) {
		return protocol.CreateTransport(cfg.Transport, logger)
	}), nil
}

// NewClientWithTransport creates a client over an existing transport. The
// client takes ownership and closes it on Disconnect.
func NewClientWithTransport(cfg Config, transport protocol.Transport, logger *zap.Logger) *Client {
	used := false
	return newClient(cfg, logger, func() (protocol.Transport, error) {
		if used {
			return nil, fmt.Errorf("%w: transport already released", protocol.ErrConnection)
		}
		used = true
		return transport, nil
	})
}

func newClient(cfg Config, logger *zap.Logger, factory func() (protocol.Transport, error)) *Client {
	cfg.applyDefaults()
	transportName := string(cfg.Transport.Type)
	if transportName == "" {
		transportName = string(protocol.ConnectionTypeTCP)
	}

	c := &Client{
		config:       cfg,
		newTransport: factory,
		logger:       utils.NewDeviceLogger(logger, cfg.DeviceID, cfg.Model, transportName),
		callState:    CallIdle,
		acqState:     AcquisitionStopped,
	}
	c.idle = sync.NewCond(&c.stateMu)
	return c
}

// Connect opens the transport. Connection failures are not retried.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t := c.currentTransport(); t != nil && t.IsOpen() {
		return nil
	}

	startTime := time.Now()
	t, err := c.newTransport()
	if err != nil {
		c.recordResult(time.Since(startTime), err)
		return err
	}
	if err := t.Open(ctx); err != nil {
		t.Close()
		c.recordResult(time.Since(startTime), err)
		c.logger.LogConnection("connect", false, err)
		c.notifyError(err)
		return err
	}

	c.stateMu.Lock()
	c.transport = t
	handler := c.eventHandler
	c.stateMu.Unlock()

	c.recordResult(time.Since(startTime), nil)
	c.logger.LogConnection("connect", true, nil)
	if handler != nil {
		handler.OnDeviceConnected(c.config.DeviceID)
	}
	return nil
}

// Disconnect closes the transport. It never fails on an already closed or
// never opened client, and interrupts an acquisition blocked in a read.
func (c *Client) Disconnect(ctx context.Context) error {
	c.stateMu.Lock()
	t := c.transport
	c.transport = nil
	handler := c.eventHandler
	c.stateMu.Unlock()

	if t == nil {
		return nil
	}

	err := t.Close()
	c.logger.LogConnection("disconnect", err == nil, err)
	if handler != nil {
		handler.OnDeviceDisconnected(c.config.DeviceID, "disconnect requested")
	}
	return err
}

// IsConnected reports whether the transport is open
func (c *Client) IsConnected() bool {
	t := c.currentTransport()
	return t != nil && t.IsOpen()
}

// CallState returns the state of the most recent exchange
func (c *Client) CallState() CallState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.callState
}

// AcquisitionState returns the streaming state
func (c *Client) AcquisitionState() AcquisitionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.acqState
}

// Commands returns the command table in use
func (c *Client) Commands() *CommandSet {
	return c.config.Commands
}

// Call performs one exchange of the named command. ADC_OFF is routed through
// StopAcquisition since its acknowledgement may trail buffered stream data.
func (c *Client) Call(ctx context.Context, command string, params ...any) (codec.Record, error) {
	spec, err := c.config.Commands.Lookup(command)
	if err != nil {
		return nil, err
	}
	if spec.Name == CmdADCOff {
		if len(params) != 0 {
			return nil, &codec.ValueError{Reason: fmt.Sprintf("%s takes no parameters", spec.Name)}
		}
		if err := c.StopAcquisition(ctx); err != nil {
			return nil, err
		}
		return codec.Record{{Name: "ack", Raw: spec.Ack}}, nil
	}

	if err := c.admit(); err != nil {
		return nil, err
	}
	defer c.release()
	c.mu.Lock()
	defer c.mu.Unlock()

	t, err := c.activeTransport()
	if err != nil {
		return nil, err
	}
	return c.exchange(ctx, t, spec, params)
}

// GetInfo reads the identity block
func (c *Client) GetInfo(ctx context.Context) (*driver.DeviceInfo, error) {
	rec, err := c.Call(ctx, CmdGetInfo)
	if err != nil {
		return nil, err
	}

	return &driver.DeviceInfo{
		Model:            strings.TrimRight(string(rec.Raw("model")), "\x00 "),
		SerialNumber:     uint32(rec.Int("serial")),
		FirmwareVersion:  fmt.Sprintf("%d.%d.%d", rec.Int("fw_major"), rec.Int("fw_minor"), rec.Int("fw_patch")),
		HardwareRevision: int(rec.Int("hw_rev")),
		Channels:         int(rec.Int("channels")),
		SampleRate:       int(rec.Int("sample_rate")),
		StatusFlags:      int(rec.Int("status")),
	}, nil
}

// GetLANConfig reads the network configuration
func (c *Client) GetLANConfig(ctx context.Context) (*driver.LANConfig, error) {
	rec, err := c.Call(ctx, CmdGetLAN)
	if err != nil {
		return nil, err
	}
	return lanFromRecord(rec), nil
}

// SetLANConfig writes the network configuration. Addresses are validated
// before anything is sent.
func (c *Client) SetLANConfig(ctx context.Context, cfg driver.LANConfig) error {
	params, err := lanParams(cfg)
	if err != nil {
		return err
	}
	_, err = c.Call(ctx, CmdSetLAN, params...)
	return err
}

// SetMode selects the channel count and IEPE excitation flags
func (c *Client) SetMode(ctx context.Context, mode driver.ModeConfig) error {
	if !codec.ChannelsFit(mode.Channels) {
		return &codec.ValueError{Field: "channels", Value: mode.Channels, Reason: "channel count must divide the frame sample count"}
	}
	if mode.Channels < 8 && mode.IEPEFlags>>mode.Channels != 0 {
		return &codec.ValueError{Field: "iepe", Value: mode.IEPEFlags, Reason: fmt.Sprintf("flags set beyond %d channels", mode.Channels)}
	}
	_, err := c.Call(ctx, CmdSetMode, mode.Channels, mode.IEPEFlags)
	return err
}

// Reboot restarts the instrument. The connection is unusable afterwards.
func (c *Client) Reboot(ctx context.Context) error {
	_, err := c.Call(ctx, CmdReboot)
	return err
}

// GetHealthMetrics returns exchange statistics
func (c *Client) GetHealthMetrics() (*driver.HealthMetrics, error) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	metrics := c.healthMetrics
	return &metrics, nil
}

// SetEventHandler sets the lifecycle event receiver
func (c *Client) SetEventHandler(handler driver.EventHandler) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.eventHandler = handler
}

// exchange runs IDLE → SENT → AWAITING_RESPONSE → VALIDATED|FAILED. The
// caller holds mu.
func (c *Client) exchange(ctx context.Context, t protocol.Transport, spec CommandSpec, params []any) (rec codec.Record, err error) {
	startTime := time.Now()
	c.setCallState(CallIdle)
	defer func() {
		if err != nil {
			c.setCallState(CallFailed)
		} else {
			c.setCallState(CallValidated)
		}
		c.recordResult(time.Since(startTime), err)
		c.logger.LogCommand(spec.Name, time.Since(startTime), err)
	}()

	frame, err := codec.EncodeRequest(spec.Opcode, spec.Request, params...)
	if err != nil {
		return nil, err
	}
	if err := t.Send(ctx, frame); err != nil {
		return nil, err
	}
	c.setCallState(CallSent)

	c.setCallState(CallAwaitingResponse)
	raw, err := readExact(ctx, t, spec.ResponseLength(), spec.Name+" response")
	if err != nil {
		return nil, err
	}

	if spec.Mutating && !bytes.Equal(raw, spec.Ack) {
		return nil, &AckMismatchError{Command: spec.Name, Want: spec.Ack, Got: raw}
	}
	return codec.DecodeResponse(raw, spec.Response)
}

// readExact accumulates receives until n bytes arrived. A read timeout after
// some bytes is a short frame; any other transport error is returned as is.
func readExact(ctx context.Context, t protocol.Transport, n int, what string) ([]byte, error) {
	buf := make([]byte, 0, n)
	for len(buf) < n {
		chunk, err := t.Receive(ctx, n-len(buf))
		if err != nil {
			if len(buf) == 0 {
				return nil, err
			}
			if errors.Is(err, protocol.ErrReceiveTimeout) {
				return nil, &codec.DecodeError{What: what, Want: n, Got: len(buf)}
			}
			return nil, fmt.Errorf("%s: %d of %d bytes: %w", what, len(buf), n, err)
		}
		buf = append(buf, chunk...)
	}
	return buf, nil
}

func (c *Client) currentTransport() protocol.Transport {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.transport
}

func (c *Client) activeTransport() (protocol.Transport, error) {
	t := c.currentTransport()
	if t == nil || !t.IsOpen() {
		return nil, protocol.ErrNotOpen
	}
	return t, nil
}

// admit registers one exchange. Once an acquisition has claimed the client
// it fails with ErrBusy instead of queueing behind the capture.
func (c *Client) admit() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.acqState != AcquisitionStopped {
		return ErrBusy
	}
	c.pending++
	return nil
}

func (c *Client) release() {
	c.stateMu.Lock()
	c.pending--
	c.stateMu.Unlock()
	c.idle.Broadcast()
}

// claim moves the client out of STOPPED and waits for admitted exchanges to
// drain. The caller takes mu afterwards and resets the state when done.
func (c *Client) claim(s AcquisitionState) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.acqState != AcquisitionStopped {
		return ErrBusy
	}
	c.acqState = s
	for c.pending > 0 {
		c.idle.Wait()
	}
	return nil
}

func (c *Client) setCallState(s CallState) {
	c.stateMu.Lock()
	c.callState = s
	c.stateMu.Unlock()
}

func (c *Client) setAcquisitionState(s AcquisitionState) {
	c.stateMu.Lock()
	c.acqState = s
	c.stateMu.Unlock()
}

func (c *Client) recordResult(responseTime time.Duration, err error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	m := &c.healthMetrics
	m.TotalOperations++
	m.ResponseTime = responseTime
	now := time.Now()
	if err != nil {
		m.ErrorCount++
		m.LastErrorTime = &now
	} else {
		m.LastSuccessTime = &now
	}
	m.SuccessRate = float64(m.TotalOperations-m.ErrorCount) / float64(m.TotalOperations)

	m.HealthScore = int(m.SuccessRate * 100)
	if responseTime > 5*time.Second {
		m.HealthScore -= 10
	}
	if m.HealthScore < 0 {
		m.HealthScore = 0
	}
}

func (c *Client) notifyError(err error) {
	c.stateMu.RLock()
	handler := c.eventHandler
	c.stateMu.RUnlock()
	if handler != nil {
		handler.OnDeviceError(c.config.DeviceID, err)
	}
}

func lanFromRecord(rec codec.Record) *driver.LANConfig {
	quad := func(prefix string) string {
		return fmt.Sprintf("%d.%d.%d.%d",
			rec.Int(prefix+"0"), rec.Int(prefix+"1"), rec.Int(prefix+"2"), rec.Int(prefix+"3"))
	}
	return &driver.LANConfig{
		IP:      quad("ip"),
		Netmask: quad("mask"),
		Gateway: quad("gw"),
		Port:    int(rec.Int("port")),
		DHCP:    rec.Int("dhcp") != 0,
	}
}

// lanParams flattens cfg into SET_LAN parameter order. Octets are passed
// through unclamped so the encoder rejects out-of-range values.
func lanParams(cfg driver.LANConfig) ([]any, error) {
	params := make([]any, 0, len(lanLayout))
	for _, f := range []struct{ name, value string }{
		{"ip", cfg.IP}, {"netmask", cfg.Netmask}, {"gateway", cfg.Gateway},
	} {
		octets, err := parseQuad(f.name, f.value)
		if err != nil {
			return nil, err
		}
		for _, o := range octets {
			params = append(params, o)
		}
	}

	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	params = append(params, port, cfg.DHCP)

	if _, err := codec.EncodeRequest([]byte{0}, lanLayout, params...); err != nil {
		return nil, err
	}
	return params, nil
}

func parseQuad(field, s string) ([4]int, error) {
	var out [4]int
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 4 {
		return out, &codec.ValueError{Field: field, Value: s, Reason: "expected dotted quad"}
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return out, &codec.ValueError{Field: field, Value: s, Reason: fmt.Sprintf("octet %d is not a number", i)}
		}
		out[i] = n
	}
	return out, nil
}
