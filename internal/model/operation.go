// internal/model/operation.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// OperationType represents the type of operation
type OperationType string

const (
	OperationTypeGetInfo     OperationType = "GET_INFO"
	OperationTypeGetLAN      OperationType = "GET_LAN"
	OperationTypeSetLAN      OperationType = "SET_LAN"
	OperationTypeSetMode     OperationType = "SET_MODE"
	OperationTypeReboot      OperationType = "REBOOT"
	OperationTypeStop        OperationType = "ADC_OFF"
	OperationTypeAcquisition OperationType = "ACQUISITION"
)

// OperationStatus represents the status of an operation
type OperationStatus string

const (
	OperationStatusPending    OperationStatus = "PENDING"
	OperationStatusProcessing OperationStatus = "PROCESSING"
	OperationStatusSuccess    OperationStatus = "SUCCESS"
	OperationStatusFailed     OperationStatus = "FAILED"
	OperationStatusTimeout    OperationStatus = "TIMEOUT"
	OperationStatusCancelled  OperationStatus = "CANCELLED"
)

// DeviceOperation records one command exchange with a device
type DeviceOperation struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	DeviceID      string          `json:"device_id" db:"device_id"`
	OperationType OperationType   `json:"operation_type" db:"operation_type"`
	OperationData JSONObject      `json:"operation_data" db:"operation_data"`
	Status        OperationStatus `json:"status" db:"status"`
	StartedAt     time.Time       `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at" db:"completed_at"`
	DurationMs    *int            `json:"duration_ms" db:"duration_ms"`
	ErrorMessage  *string         `json:"error_message" db:"error_message"`
	RequestID     *string         `json:"request_id" db:"request_id"`
	Result        JSONObject      `json:"result" db:"result"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// IsCompleted checks if operation is completed (success or failed)
func (op *DeviceOperation) IsCompleted() bool {
	return op.Status.IsTerminal()
}

// IsTerminal reports whether no further transitions happen from s
func (s OperationStatus) IsTerminal() bool {
	return s == OperationStatusSuccess ||
		s == OperationStatusFailed ||
		s == OperationStatusTimeout ||
		s == OperationStatusCancelled
}

// Acquisition records one streaming capture
type Acquisition struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	DeviceID        string          `json:"device_id" db:"device_id"`
	Status          OperationStatus `json:"status" db:"status"`
	RequestedFrames int             `json:"requested_frames" db:"requested_frames"`
	Channels        int             `json:"channels" db:"channels"`
	Frames          int             `json:"frames" db:"frames"`
	Samples         int64           `json:"samples" db:"samples"`
	Bytes           int64           `json:"bytes" db:"bytes"`
	FirstSequence   *int64          `json:"first_sequence,omitempty" db:"first_sequence"`
	LastSequence    *int64          `json:"last_sequence,omitempty" db:"last_sequence"`
	OutputPath      *string         `json:"output_path,omitempty" db:"output_path"`
	Summary         JSONObject      `json:"summary,omitempty" db:"summary"`
	ErrorMessage    *string         `json:"error_message,omitempty" db:"error_message"`
	RequestID       *string         `json:"request_id,omitempty" db:"request_id"`
	StartedAt       time.Time       `json:"started_at" db:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	DurationMs      *int            `json:"duration_ms,omitempty" db:"duration_ms"`
}

// IsCompleted checks if the capture has ended
func (a *Acquisition) IsCompleted() bool {
	return a.Status.IsTerminal()
}

// Progress returns the captured fraction in [0, 1]
func (a *Acquisition) Progress() float64 {
	if a.RequestedFrames <= 0 {
		return 0
	}
	return float64(a.Frames) / float64(a.RequestedFrames)
}

// SetLANOperationData carries the SET_LAN parameters
type SetLANOperationData struct {
	IP      string `json:"ip"`
	Netmask string `json:"netmask"`
	Gateway string `json:"gateway"`
	Port    int    `json:"port"`
	DHCP    bool   `json:"dhcp"`
}

// SetModeOperationData carries the SET_MODE parameters
type SetModeOperationData struct {
	Channels  int   `json:"channels"`
	IEPEFlags uint8 `json:"iepe_flags"`
}
