package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	record := archiver.JobRecord{ID: "job-1", OwnerID: "owner-1", Status: archiver.JobStatusQueued}

	if err := store.CreateJob(ctx, record); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := store.CreateJob(ctx, record); err == nil {
		t.Fatal("expected duplicate job error")
	}
	if err := store.UpdateJobStatus(ctx, record.ID, archiver.JobStatusRunning, "", archiver.JobCounters{}); err != nil {
		t.Fatalf("UpdateJobStatus running error = %v", err)
	}
	if err := store.RecordDelivery(ctx, record.ID, "memory://owner-1/a.cbz"); err != nil {
		t.Fatalf("RecordDelivery() error = %v", err)
	}

	err := store.UpdateJobStatus(
		ctx,
		record.ID,
		archiver.JobStatusCompleted,
		"",
		archiver.JobCounters{PagesSucceeded: 3},
	)
	if err != nil {
		t.Fatalf("UpdateJobStatus completed error = %v", err)
	}
	final, err := store.GetJob(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if final.Status != archiver.JobStatusCompleted || final.Started == nil || final.Finished == nil {
		t.Fatalf("expected timestamps set, got %+v", final)
	}
	if final.DeliveryID != "memory://owner-1/a.cbz" || final.Counters.PagesSucceeded != 3 {
		t.Fatalf("expected delivery/counters to persist, got %+v", final)
	}

	if err := store.UpdateJobStatus(ctx, record.ID, archiver.JobStatusRunning, "", archiver.JobCounters{}); err == nil {
		t.Fatal("expected terminal job to reject further transitions")
	}
}

func TestJobStoreMissingJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	if _, err := store.GetJob(ctx, "nope"); !errors.Is(err, archiver.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := store.UpdateJobStatus(ctx, "nope", archiver.JobStatusRunning, "", archiver.JobCounters{}); !errors.Is(err, archiver.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := store.RecordDelivery(ctx, "nope", "x"); !errors.Is(err, archiver.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
