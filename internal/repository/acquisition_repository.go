// internal/repository/acquisition_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"adc-service/internal/database"
	"adc-service/internal/model"
)

// acquisitionRepository implements AcquisitionRepository on Postgres
type acquisitionRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewAcquisitionRepository creates a new acquisition repository
func NewAcquisitionRepository(db *database.DB, logger *zap.Logger) AcquisitionRepository {
	return &acquisitionRepository{
		db:     db,
		logger: logger,
	}
}

const acquisitionColumns = `id, device_id, status, requested_frames, channels, frames,
	samples, bytes, first_sequence, last_sequence, output_path, summary,
	error_message, request_id, started_at, completed_at, duration_ms`

func scanAcquisition(row rowScanner) (*model.Acquisition, error) {
	a := &model.Acquisition{}
	err := row.Scan(
		&a.ID, &a.DeviceID, &a.Status, &a.RequestedFrames, &a.Channels, &a.Frames,
		&a.Samples, &a.Bytes, &a.FirstSequence, &a.LastSequence, &a.OutputPath, &a.Summary,
		&a.ErrorMessage, &a.RequestID, &a.StartedAt, &a.CompletedAt, &a.DurationMs,
	)
	return a, err
}

// Create creates a new acquisition record
func (r *acquisitionRepository) Create(ctx context.Context, a *model.Acquisition) error {
	query := `
		INSERT INTO acquisitions (
			id, device_id, status, requested_frames, channels,
			output_path, request_id, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.DeviceID, a.Status, a.RequestedFrames, a.Channels,
		a.OutputPath, a.RequestID, a.StartedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create acquisition", zap.Error(err))
		return fmt.Errorf("failed to create acquisition: %w", err)
	}

	return nil
}

// GetByID retrieves an acquisition by ID
func (r *acquisitionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Acquisition, error) {
	query := `SELECT ` + acquisitionColumns + ` FROM acquisitions WHERE id = $1`

	a, err := scanAcquisition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("acquisition %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get acquisition: %w", err)
	}

	return a, nil
}

// Update writes the progress and outcome of an acquisition
func (r *acquisitionRepository) Update(ctx context.Context, a *model.Acquisition) error {
	query := `
		UPDATE acquisitions SET
			status = $2, frames = $3, samples = $4, bytes = $5,
			first_sequence = $6, last_sequence = $7, output_path = $8,
			summary = $9, error_message = $10, completed_at = $11, duration_ms = $12
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		a.ID, a.Status, a.Frames, a.Samples, a.Bytes,
		a.FirstSequence, a.LastSequence, a.OutputPath,
		a.Summary, a.ErrorMessage, a.CompletedAt, a.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to update acquisition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("acquisition %s: %w", a.ID, ErrNotFound)
	}

	return nil
}

// List retrieves acquisitions with filtering and pagination
func (r *acquisitionRepository) List(ctx context.Context, filter *AcquisitionFilter) ([]*model.Acquisition, int, error) {
	filter.normalize()

	// Build WHERE clause
	whereConditions := []string{}
	args := []interface{}{}
	argIndex := 1

	if filter.DeviceID != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("device_id = $%d", argIndex))
		args = append(args, *filter.DeviceID)
		argIndex++
	}

	if filter.Status != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}

	whereClause := ""
	if len(whereConditions) > 0 {
		whereClause = "WHERE " + strings.Join(whereConditions, " AND ")
	}

	// Count total records
	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM acquisitions %s", whereClause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count acquisitions: %w", err)
	}

	offset := (filter.Page - 1) * filter.PerPage
	query := fmt.Sprintf(`
		SELECT %s
		FROM acquisitions %s
		ORDER BY started_at DESC
		LIMIT $%d OFFSET $%d
	`, acquisitionColumns, whereClause, argIndex, argIndex+1)
	args = append(args, filter.PerPage, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list acquisitions: %w", err)
	}
	defer rows.Close()

	acquisitions := []*model.Acquisition{}
	for rows.Next() {
		a, err := scanAcquisition(rows)
		if err != nil {
			r.logger.Error("Failed to scan acquisition row", zap.Error(err))
			continue
		}
		acquisitions = append(acquisitions, a)
	}

	return acquisitions, total, rows.Err()
}

// MarkInterrupted fails acquisitions left running by a previous process
func (r *acquisitionRepository) MarkInterrupted(ctx context.Context, reason string) (int64, error) {
	query := `
		UPDATE acquisitions SET status = $1, error_message = $2, completed_at = NOW()
		WHERE status IN ($3, $4)
	`
	result, err := r.db.ExecContext(ctx, query,
		model.OperationStatusFailed, reason,
		model.OperationStatusPending, model.OperationStatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted acquisitions: %w", err)
	}
	return result.RowsAffected()
}
