// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventDeviceConnected      EventType = "DEVICE_CONNECTED"
	EventDeviceDisconnected   EventType = "DEVICE_DISCONNECTED"
	EventDeviceError          EventType = "DEVICE_ERROR"
	EventOperationCompleted   EventType = "OPERATION_COMPLETED"
	EventOperationFailed      EventType = "OPERATION_FAILED"
	EventAcquisitionStarted   EventType = "ACQUISITION_STARTED"
	EventAcquisitionProgress  EventType = "ACQUISITION_PROGRESS"
	EventAcquisitionCompleted EventType = "ACQUISITION_COMPLETED"
	EventAcquisitionFailed    EventType = "ACQUISITION_FAILED"
	EventConfigUpdate         EventType = "CONFIG_UPDATE"
)

// Event severities
const (
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
)

// DeviceEvent represents an event in the system
type DeviceEvent struct {
	ID        uuid.UUID  `json:"id"`
	EventType EventType  `json:"event_type"`
	DeviceID  string     `json:"device_id"`
	Data      JSONObject `json:"data"`
	Timestamp time.Time  `json:"timestamp"`
	Source    string     `json:"source"`
	Severity  string     `json:"severity"`
}

// NewDeviceEvent creates an event stamped with a fresh id and the current time
func NewDeviceEvent(eventType EventType, deviceID, severity string, data JSONObject) DeviceEvent {
	return DeviceEvent{
		ID:        uuid.New(),
		EventType: eventType,
		DeviceID:  deviceID,
		Data:      data,
		Timestamp: time.Now(),
		Source:    "adc-service",
		Severity:  severity,
	}
}

// DeviceErrorEventData represents device error event
type DeviceErrorEventData struct {
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
	ErrorTime    time.Time `json:"error_time"`
}

// AcquisitionEventData represents acquisition lifecycle events
type AcquisitionEventData struct {
	AcquisitionID uuid.UUID       `json:"acquisition_id"`
	Status        OperationStatus `json:"status"`
	Frames        int             `json:"frames"`
	Requested     int             `json:"requested_frames"`
	DurationMs    *int            `json:"duration_ms,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
}

// ToJSONObject flattens d into event data
func (d AcquisitionEventData) ToJSONObject() JSONObject {
	obj := JSONObject{
		"acquisition_id":   d.AcquisitionID.String(),
		"status":           string(d.Status),
		"frames":           d.Frames,
		"requested_frames": d.Requested,
	}
	if d.DurationMs != nil {
		obj["duration_ms"] = *d.DurationMs
	}
	if d.ErrorMessage != nil {
		obj["error_message"] = *d.ErrorMessage
	}
	return obj
}
