package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"adc-service/internal/model"
)

func TestMemoryAcquisitionRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryAcquisitionRepository()

	base := time.Now()
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		a := &model.Acquisition{
			ID:              uuid.New(),
			DeviceID:        "adc-1",
			Status:          model.OperationStatusProcessing,
			RequestedFrames: 10,
			Channels:        2,
			StartedAt:       base.Add(time.Duration(i) * time.Second),
		}
		if i == 4 {
			a.DeviceID = "adc-2"
		}
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, a.ID)
	}

	got, err := repo.GetByID(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	got.Status = model.OperationStatusSuccess
	got.Frames = 10
	got.Summary = model.JSONObject{"full_scale_volts": "10"}
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Mutating a returned copy does not touch the store.
	got.Summary["full_scale_volts"] = "5"
	again, _ := repo.GetByID(ctx, ids[0])
	if again.Summary["full_scale_volts"] != "10" || again.Frames != 10 {
		t.Fatalf("stored record = %+v", again)
	}

	device := "adc-1"
	page, total, err := repo.List(ctx, &AcquisitionFilter{DeviceID: &device, Page: 1, PerPage: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 4 || len(page) != 2 {
		t.Fatalf("List total=%d page=%d", total, len(page))
	}
	if page[0].ID != ids[3] {
		t.Fatal("List is not ordered newest first")
	}
	if page, _, _ := repo.List(ctx, &AcquisitionFilter{Page: 9, PerPage: 2}); len(page) != 0 {
		t.Fatalf("page past the end has %d records", len(page))
	}

	n, err := repo.MarkInterrupted(ctx, "service restarted")
	if err != nil || n != 4 {
		t.Fatalf("MarkInterrupted = %d, %v", n, err)
	}
	failed := model.OperationStatusFailed
	if _, total, _ := repo.List(ctx, &AcquisitionFilter{Status: &failed}); total != 4 {
		t.Fatalf("failed acquisitions = %d", total)
	}

	if _, err := repo.GetByID(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByID(unknown) error = %v", err)
	}
	if err := repo.Update(ctx, &model.Acquisition{ID: uuid.New()}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update(unknown) error = %v", err)
	}
}

func TestMemoryOperationRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryOperationRepository()

	old := &model.DeviceOperation{ID: uuid.New(), DeviceID: "adc-1", OperationType: model.OperationTypeGetInfo, CreatedAt: time.Now().Add(-48 * time.Hour)}
	recent := &model.DeviceOperation{ID: uuid.New(), DeviceID: "adc-1", OperationType: model.OperationTypeReboot}
	for _, op := range []*model.DeviceOperation{old, recent} {
		if err := repo.Create(ctx, op); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := repo.Create(ctx, recent); err == nil {
		t.Fatal("duplicate Create succeeded")
	}

	ops, err := repo.ListByDevice(ctx, "adc-1", 10)
	if err != nil || len(ops) != 2 || ops[0].ID != recent.ID {
		t.Fatalf("ListByDevice = %v, %v", ops, err)
	}

	n, err := repo.DeleteOldOperations(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("DeleteOldOperations = %d, %v", n, err)
	}
	if _, err := repo.GetByID(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted operation still present: %v", err)
	}
}
