// internal/repository/operation_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"adc-service/internal/database"
	"adc-service/internal/model"
)

// operationRepository implements OperationRepository interface
type operationRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewOperationRepository creates a new operation repository
func NewOperationRepository(db *database.DB, logger *zap.Logger) OperationRepository {
	return &operationRepository{
		db:     db,
		logger: logger,
	}
}

const operationColumns = `id, device_id, operation_type, operation_data, status,
	started_at, completed_at, duration_ms, error_message, request_id, result, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*model.DeviceOperation, error) {
	operation := &model.DeviceOperation{}
	err := row.Scan(
		&operation.ID, &operation.DeviceID, &operation.OperationType,
		&operation.OperationData, &operation.Status, &operation.StartedAt,
		&operation.CompletedAt, &operation.DurationMs, &operation.ErrorMessage,
		&operation.RequestID, &operation.Result, &operation.CreatedAt,
	)
	return operation, err
}

// Create creates a new operation
func (r *operationRepository) Create(ctx context.Context, operation *model.DeviceOperation) error {
	query := `
		INSERT INTO device_operations (
			id, device_id, operation_type, operation_data, status,
			started_at, request_id, result
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		operation.ID, operation.DeviceID, operation.OperationType,
		operation.OperationData, operation.Status, operation.StartedAt,
		operation.RequestID, operation.Result,
	)

	if err != nil {
		r.logger.Error("Failed to create operation", zap.Error(err))
		return fmt.Errorf("failed to create operation: %w", err)
	}

	return nil
}

// GetByID retrieves an operation by ID
func (r *operationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.DeviceOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM device_operations WHERE id = $1`

	operation, err := scanOperation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}

	return operation, nil
}

// Update updates an existing operation
func (r *operationRepository) Update(ctx context.Context, operation *model.DeviceOperation) error {
	query := `
		UPDATE device_operations SET
			status = $2, completed_at = $3, duration_ms = $4,
			error_message = $5, result = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		operation.ID, operation.Status, operation.CompletedAt,
		operation.DurationMs, operation.ErrorMessage, operation.Result,
	)
	if err != nil {
		return fmt.Errorf("failed to update operation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("operation %s: %w", operation.ID, ErrNotFound)
	}

	return nil
}

// ListByDevice retrieves the latest operations for a specific device
func (r *operationRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*model.DeviceOperation, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM device_operations
		WHERE device_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations by device: %w", err)
	}
	defer rows.Close()

	operations := []*model.DeviceOperation{}
	for rows.Next() {
		operation, err := scanOperation(rows)
		if err != nil {
			r.logger.Error("Failed to scan operation row", zap.Error(err))
			continue
		}
		operations = append(operations, operation)
	}

	return operations, rows.Err()
}

// DeleteOldOperations removes operations created before olderThan
func (r *operationRepository) DeleteOldOperations(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM device_operations WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old operations: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("Old operations deleted", zap.Int64("count", deleted))
	return deleted, nil
}
