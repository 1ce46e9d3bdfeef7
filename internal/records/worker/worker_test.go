package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/hibiken/asynq"

	"classbridge/internal/records"
	"classbridge/internal/records/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestHandlePurgeRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("PurgesEndedRecord", func(t *testing.T) {
		store := records.NewMemoryStore()
		w := worker.NewRecordTaskWorker(store, testLogger())

		if err := store.Create(ctx, &records.Record{SessionID: "s-1", UserID: "u-1"}); err != nil {
			t.Fatalf("Failed to create record: %v", err)
		}
		if err := store.MarkEnded(ctx, "s-1"); err != nil {
			t.Fatalf("Failed to mark record ended: %v", err)
		}

		task, err := worker.NewPurgeTask("s-1")
		if err != nil {
			t.Fatalf("Failed to build purge task: %v", err)
		}
		if err := w.HandlePurgeRecord(ctx, task); err != nil {
			t.Fatalf("Failed to handle purge task: %v", err)
		}

		if _, err := store.GetByID(ctx, "s-1"); !errors.Is(err, records.ErrNotFound) {
			t.Errorf("Expected record to be purged, got %v", err)
		}
	})

	t.Run("SkipsRevivedRecord", func(t *testing.T) {
		store := records.NewMemoryStore()
		w := worker.NewRecordTaskWorker(store, testLogger())

		// Ended, then re-registered before the grace period elapsed.
		if err := store.Create(ctx, &records.Record{SessionID: "s-2", UserID: "u-2"}); err != nil {
			t.Fatalf("Failed to create record: %v", err)
		}

		task, err := worker.NewPurgeTask("s-2")
		if err != nil {
			t.Fatalf("Failed to build purge task: %v", err)
		}
		if err := w.HandlePurgeRecord(ctx, task); err != nil {
			t.Fatalf("Failed to handle purge task: %v", err)
		}

		if _, err := store.GetByID(ctx, "s-2"); err != nil {
			t.Errorf("Active record must survive the purge task: %v", err)
		}
	})

	t.Run("MissingRecordIsNoop", func(t *testing.T) {
		store := records.NewMemoryStore()
		w := worker.NewRecordTaskWorker(store, testLogger())

		task, err := worker.NewPurgeTask("s-gone")
		if err != nil {
			t.Fatalf("Failed to build purge task: %v", err)
		}
		if err := w.HandlePurgeRecord(ctx, task); err != nil {
			t.Errorf("Purging a missing record must not fail: %v", err)
		}
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		store := records.NewMemoryStore()
		w := worker.NewRecordTaskWorker(store, testLogger())

		task := asynq.NewTask(records.PurgeRecordTask, []byte("not json"))
		if err := w.HandlePurgeRecord(ctx, task); err == nil {
			t.Error("Expected error for malformed payload")
		}
	})
}
