// internal/repository/memory_repository.go
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"adc-service/internal/model"
)

// memoryOperationRepository keeps command history in process memory. It is
// used when no database is configured.
type memoryOperationRepository struct {
	mu         sync.RWMutex
	operations map[uuid.UUID]*model.DeviceOperation
}

// NewMemoryOperationRepository creates an in-memory operation repository
func NewMemoryOperationRepository() OperationRepository {
	return &memoryOperationRepository{operations: make(map[uuid.UUID]*model.DeviceOperation)}
}

func (r *memoryOperationRepository) Create(ctx context.Context, operation *model.DeviceOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.operations[operation.ID]; exists {
		return fmt.Errorf("operation %s already exists", operation.ID)
	}
	op := *operation
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}
	r.operations[op.ID] = &op
	return nil
}

func (r *memoryOperationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.DeviceOperation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.operations[id]
	if !ok {
		return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	out := *op
	return &out, nil
}

func (r *memoryOperationRepository) Update(ctx context.Context, operation *model.DeviceOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.operations[operation.ID]
	if !ok {
		return fmt.Errorf("operation %s: %w", operation.ID, ErrNotFound)
	}
	op := *operation
	op.CreatedAt = existing.CreatedAt
	r.operations[op.ID] = &op
	return nil
}

func (r *memoryOperationRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*model.DeviceOperation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*model.DeviceOperation{}
	for _, op := range r.operations {
		if op.DeviceID == deviceID {
			cp := *op
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryOperationRepository) DeleteOldOperations(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, op := range r.operations {
		if op.CreatedAt.Before(olderThan) {
			delete(r.operations, id)
			n++
		}
	}
	return n, nil
}

// memoryAcquisitionRepository keeps capture history in process memory
type memoryAcquisitionRepository struct {
	mu           sync.RWMutex
	acquisitions map[uuid.UUID]*model.Acquisition
}

// NewMemoryAcquisitionRepository creates an in-memory acquisition repository
func NewMemoryAcquisitionRepository() AcquisitionRepository {
	return &memoryAcquisitionRepository{acquisitions: make(map[uuid.UUID]*model.Acquisition)}
}

func copyAcquisition(a *model.Acquisition) *model.Acquisition {
	cp := *a
	if a.Summary != nil {
		cp.Summary = make(model.JSONObject, len(a.Summary))
		for k, v := range a.Summary {
			cp.Summary[k] = v
		}
	}
	return &cp
}

func (r *memoryAcquisitionRepository) Create(ctx context.Context, a *model.Acquisition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.acquisitions[a.ID]; exists {
		return fmt.Errorf("acquisition %s already exists", a.ID)
	}
	r.acquisitions[a.ID] = copyAcquisition(a)
	return nil
}

func (r *memoryAcquisitionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Acquisition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.acquisitions[id]
	if !ok {
		return nil, fmt.Errorf("acquisition %s: %w", id, ErrNotFound)
	}
	return copyAcquisition(a), nil
}

func (r *memoryAcquisitionRepository) Update(ctx context.Context, a *model.Acquisition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.acquisitions[a.ID]; !ok {
		return fmt.Errorf("acquisition %s: %w", a.ID, ErrNotFound)
	}
	r.acquisitions[a.ID] = copyAcquisition(a)
	return nil
}

func (r *memoryAcquisitionRepository) List(ctx context.Context, filter *AcquisitionFilter) ([]*model.Acquisition, int, error) {
	filter.normalize()

	r.mu.RLock()
	matched := []*model.Acquisition{}
	for _, a := range r.acquisitions {
		if filter.DeviceID != nil && a.DeviceID != *filter.DeviceID {
			continue
		}
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		matched = append(matched, copyAcquisition(a))
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].StartedAt.After(matched[j].StartedAt) })

	total := len(matched)
	start := (filter.Page - 1) * filter.PerPage
	if start >= total {
		return []*model.Acquisition{}, total, nil
	}
	end := min(start+filter.PerPage, total)
	return matched[start:end], total, nil
}

func (r *memoryAcquisitionRepository) MarkInterrupted(ctx context.Context, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now()
	for _, a := range r.acquisitions {
		if a.Status == model.OperationStatusPending || a.Status == model.OperationStatusProcessing {
			a.Status = model.OperationStatusFailed
			msg := reason
			a.ErrorMessage = &msg
			a.CompletedAt = &now
			n++
		}
	}
	return n, nil
}
