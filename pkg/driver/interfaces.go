// pkg/driver/interfaces.go
package driver

import (
	"context"

	"adc-service/internal/codec"
)

// DeviceDriver is the consumer API of one instrument session. A driver owns
// a single connection and is not safe for pipelined use: calls are
// serialized and each waits for its own response.
type DeviceDriver interface {
	// Connection management
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Commands
	Call(ctx context.Context, command string, params ...any) (codec.Record, error)
	GetInfo(ctx context.Context) (*DeviceInfo, error)
	GetLANConfig(ctx context.Context) (*LANConfig, error)
	SetLANConfig(ctx context.Context, cfg LANConfig) error
	SetMode(ctx context.Context, mode ModeConfig) error
	Reboot(ctx context.Context) error

	// Streaming
	StartAcquisition(ctx context.Context, req AcquisitionRequest, sink FrameSink) (*AcquisitionSummary, error)
	StopAcquisition(ctx context.Context) error

	// Health and monitoring
	GetHealthMetrics() (*HealthMetrics, error)

	// Event handling
	SetEventHandler(handler EventHandler)
}
