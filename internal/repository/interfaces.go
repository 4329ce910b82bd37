// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"adc-service/internal/model"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("repository: record not found")

// OperationRepository defines command history data access operations
type OperationRepository interface {
	Create(ctx context.Context, operation *model.DeviceOperation) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.DeviceOperation, error)
	Update(ctx context.Context, operation *model.DeviceOperation) error
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]*model.DeviceOperation, error)

	// Cleanup
	DeleteOldOperations(ctx context.Context, olderThan time.Time) (int64, error)
}

// AcquisitionRepository defines capture history data access operations
type AcquisitionRepository interface {
	Create(ctx context.Context, acquisition *model.Acquisition) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Acquisition, error)
	Update(ctx context.Context, acquisition *model.Acquisition) error
	List(ctx context.Context, filter *AcquisitionFilter) ([]*model.Acquisition, int, error)

	// MarkInterrupted fails every acquisition still marked as running,
	// e.g. after a restart.
	MarkInterrupted(ctx context.Context, reason string) (int64, error)
}

// AcquisitionFilter represents acquisition listing filters
type AcquisitionFilter struct {
	DeviceID *string                `json:"device_id,omitempty"`
	Status   *model.OperationStatus `json:"status,omitempty"`
	Page     int                    `json:"page"`
	PerPage  int                    `json:"per_page"`
}

// normalize applies paging defaults
func (f *AcquisitionFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}
}
