// pkg/driver/types.go
package driver

import (
	"time"

	"adc-service/internal/codec"
)

// Core data structures

// DeviceInfo contains the identity block reported by GET_INFO
type DeviceInfo struct {
	Model            string `json:"model"`
	SerialNumber     uint32 `json:"serial_number"`
	FirmwareVersion  string `json:"firmware_version"`
	HardwareRevision int    `json:"hardware_revision"`
	Channels         int    `json:"channels"`
	SampleRate       int    `json:"sample_rate"`
	StatusFlags      int    `json:"status_flags"`
}

// LANConfig is the instrument's network configuration. Addresses are dotted
// quads; Port 0 means the default instrument port.
type LANConfig struct {
	IP      string `json:"ip"`
	Netmask string `json:"netmask"`
	Gateway string `json:"gateway"`
	Port    int    `json:"port"`
	DHCP    bool   `json:"dhcp"`
}

// ModeConfig selects the active channel count and IEPE excitation per channel.
// Bit n of IEPEFlags enables IEPE on channel n.
type ModeConfig struct {
	Channels  int   `json:"channels"`
	IEPEFlags uint8 `json:"iepe_flags"`
}

// AcquisitionRequest describes one bounded capture.
type AcquisitionRequest struct {
	Frames   int           `json:"frames"`
	Channels int           `json:"channels"`
	Deadline time.Duration `json:"deadline,omitempty"`
}

// AcquisitionSummary reports what a capture forwarded to its sink.
type AcquisitionSummary struct {
	Frames        int       `json:"frames"`
	Samples       int64     `json:"samples"`
	Bytes         int64     `json:"bytes"`
	FirstSequence uint32    `json:"first_sequence"`
	LastSequence  uint32    `json:"last_sequence"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// FrameSink consumes stream frames in arrival order.
//
// Exactly one of Close or Abort is called when the acquisition ends. Abort
// must discard anything that cannot be used as a complete capture.
type FrameSink interface {
	WriteFrame(header codec.StreamHeader, payload []byte) error
	Close() error
	Abort(cause error) error
}

// HealthMetrics contains device health information
type HealthMetrics struct {
	HealthScore     int           `json:"health_score"` // 0-100
	ResponseTime    time.Duration `json:"response_time"`
	SuccessRate     float64       `json:"success_rate"` // 0.0-1.0
	ErrorCount      int64         `json:"error_count"`
	TotalOperations int64         `json:"total_operations"`
	LastErrorTime   *time.Time    `json:"last_error_time,omitempty"`
	LastSuccessTime *time.Time    `json:"last_success_time,omitempty"`
}

// EventHandler receives driver lifecycle notifications
type EventHandler interface {
	OnDeviceConnected(deviceID string)
	OnDeviceDisconnected(deviceID string, reason string)
	OnDeviceError(deviceID string, err error)
	OnAcquisitionProgress(deviceID string, frames, total int)
}
