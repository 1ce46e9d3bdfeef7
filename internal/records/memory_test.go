package records_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"classbridge/internal/records"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := records.NewMemoryStore()

	t.Run("CreateAndGet", func(t *testing.T) {
		rec := &records.Record{
			SessionID:   "s-1",
			UserID:      "u-1",
			ClassroomID: "c-1",
			AgentType:   "quiz",
			CreatedAt:   time.Now(),
		}
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Failed to create record: %v", err)
		}

		got, err := store.GetByID(ctx, "s-1")
		if err != nil {
			t.Fatalf("Failed to get record: %v", err)
		}
		if got.UserID != "u-1" || got.AgentType != "quiz" {
			t.Errorf("Record mismatch: %+v", got)
		}
		if !got.Active() {
			t.Error("New record should be active")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		if _, err := store.GetByID(ctx, "s-none"); !errors.Is(err, records.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("MarkEnded", func(t *testing.T) {
		if err := store.Create(ctx, &records.Record{SessionID: "s-2", UserID: "u-2"}); err != nil {
			t.Fatalf("Failed to create record: %v", err)
		}
		if err := store.MarkEnded(ctx, "s-2"); err != nil {
			t.Fatalf("Failed to mark record ended: %v", err)
		}

		got, err := store.GetByID(ctx, "s-2")
		if err != nil {
			t.Fatalf("Failed to get record: %v", err)
		}
		if got.Active() {
			t.Error("Ended record should not be active")
		}

		if err := store.MarkEnded(ctx, "s-none"); !errors.Is(err, records.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for missing record, got %v", err)
		}
	})

	t.Run("CreateRevivesEndedRecord", func(t *testing.T) {
		if err := store.Create(ctx, &records.Record{SessionID: "s-3", UserID: "u-3"}); err != nil {
			t.Fatalf("Failed to create record: %v", err)
		}
		if err := store.MarkEnded(ctx, "s-3"); err != nil {
			t.Fatalf("Failed to mark record ended: %v", err)
		}

		// Session recovery re-registers the same id.
		if err := store.Create(ctx, &records.Record{SessionID: "s-3", UserID: "u-3"}); err != nil {
			t.Fatalf("Failed to re-create record: %v", err)
		}

		got, err := store.GetByID(ctx, "s-3")
		if err != nil {
			t.Fatalf("Failed to get record: %v", err)
		}
		if !got.Active() {
			t.Error("Re-created record should be active again")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := store.Create(ctx, &records.Record{SessionID: "s-4", UserID: "u-4"}); err != nil {
			t.Fatalf("Failed to create record: %v", err)
		}
		if err := store.Delete(ctx, "s-4"); err != nil {
			t.Fatalf("Failed to delete record: %v", err)
		}
		if _, err := store.GetByID(ctx, "s-4"); !errors.Is(err, records.ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}

		// Deleting a missing record is a no-op.
		if err := store.Delete(ctx, "s-4"); err != nil {
			t.Errorf("Expected idempotent delete, got %v", err)
		}
	})

	t.Run("ListActive", func(t *testing.T) {
		fresh := records.NewMemoryStore()
		for _, id := range []string{"a", "b", "c"} {
			if err := fresh.Create(ctx, &records.Record{SessionID: id, UserID: "u"}); err != nil {
				t.Fatalf("Failed to create record %s: %v", id, err)
			}
		}
		if err := fresh.MarkEnded(ctx, "b"); err != nil {
			t.Fatalf("Failed to mark record ended: %v", err)
		}

		active, err := fresh.ListActive(ctx)
		if err != nil {
			t.Fatalf("Failed to list active records: %v", err)
		}
		if len(active) != 2 {
			t.Errorf("Expected 2 active records, got %d", len(active))
		}
		for _, rec := range active {
			if rec.SessionID == "b" {
				t.Error("Ended record must not be listed as active")
			}
		}
	})
}
