// internal/model/device.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// DeviceStatus represents the last known status of an instrument
type DeviceStatus string

const (
	DeviceStatusUnknown   DeviceStatus = "UNKNOWN"
	DeviceStatusOnline    DeviceStatus = "ONLINE"
	DeviceStatusOffline   DeviceStatus = "OFFLINE"
	DeviceStatusError     DeviceStatus = "ERROR"
	DeviceStatusAcquiring DeviceStatus = "ACQUIRING"
)

// ConnectionType represents how the instrument is attached
type ConnectionType string

const (
	ConnectionTypeTCP    ConnectionType = "TCP"
	ConnectionTypeSerial ConnectionType = "SERIAL"
)

// JSONObject type for PostgreSQL JSONB objects
type JSONObject map[string]interface{}

func (j *JSONObject) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("model: JSONObject expects []byte")
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Device represents a configured ADC instrument
type Device struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Model          string         `json:"model"`
	ConnectionType ConnectionType `json:"connection_type"`
	Host           string         `json:"host,omitempty"`
	Port           int            `json:"port,omitempty"`
	SerialPort     string         `json:"serial_port,omitempty"`
	BaudRate       int            `json:"baud_rate,omitempty"`
	Status         DeviceStatus   `json:"status"`
	LastSeen       *time.Time     `json:"last_seen,omitempty"`
	LastError      *string        `json:"last_error,omitempty"`
	Health         *DeviceHealth  `json:"health,omitempty"`
}

// IsOnline checks if the last exchange with the device succeeded
func (d *Device) IsOnline() bool {
	return d.Status == DeviceStatusOnline || d.Status == DeviceStatusAcquiring
}

// DeviceHealth represents device health metrics
type DeviceHealth struct {
	HealthScore     int        `json:"health_score"`
	ResponseTimeMs  int64      `json:"response_time_ms"`
	SuccessRate     float64    `json:"success_rate"`
	TotalOperations int64      `json:"total_operations"`
	ErrorCount      int64      `json:"error_count"`
	LastErrorTime   *time.Time `json:"last_error_time,omitempty"`
	LastSuccessTime *time.Time `json:"last_success_time,omitempty"`
}
