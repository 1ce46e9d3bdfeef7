// Package worker runs the queued maintenance tasks for session records.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"classbridge/internal/monitor"
	"classbridge/internal/records"
)

// NewPurgeTask builds the delayed-purge task for one session. Enqueue it
// with asynq.ProcessIn(grace) so subscribers get their replay window before
// the durable record disappears.
func NewPurgeTask(sessionID string) (*asynq.Task, error) {
	payload, err := json.Marshal(records.PurgeRecordPayload{SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("marshaling purge payload: %w", err)
	}
	return asynq.NewTask(records.PurgeRecordTask, payload), nil
}

// RecordTaskWorker handles record maintenance tasks.
type RecordTaskWorker struct {
	store  records.Store
	logger *slog.Logger
}

func NewRecordTaskWorker(store records.Store, logger *slog.Logger) *RecordTaskWorker {
	return &RecordTaskWorker{
		store:  store,
		logger: logger.With("component", "record-worker"),
	}
}

// Register wires the worker's handlers into an asynq mux.
func (w *RecordTaskWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(records.PurgeRecordTask, w.HandlePurgeRecord)
}

// HandlePurgeRecord deletes an ended record once its grace period has
// passed. A record that was revived in the meantime is left alone.
func (w *RecordTaskWorker) HandlePurgeRecord(ctx context.Context, task *asynq.Task) error {
	var payload records.PurgeRecordPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		w.logger.Error("Failed to unmarshal purge payload", "error", err)
		return fmt.Errorf("json unmarshal error: %w", err)
	}

	record, err := w.store.GetByID(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return nil
		}
		return err
	}

	if record.Active() {
		w.logger.Info("Skipping purge, session was re-registered", "session_id", payload.SessionID)
		return nil
	}

	if err := w.store.Delete(ctx, payload.SessionID); err != nil {
		w.logger.Error("Failed to purge record", "session_id", payload.SessionID, "error", err)
		return err
	}

	monitor.RecordsPurgedTotal.Inc()
	w.logger.Info("Purged session record", "session_id", payload.SessionID)
	return nil
}
