// Package records keeps the durable mirror of session ownership. The
// in-memory stream state is authoritative while the process lives; the
// store lets a restarted web tier rebuild it and gives background jobs
// something to purge after teardown.
package records

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("session record not found")

// Record ties a session id to the user who started it. EndedAt is zero
// while the session is active; re-registering a session id clears it.
type Record struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	ClassroomID string    `json:"classroom_id"`
	AgentType   string    `json:"agent_type"`
	CreatedAt   time.Time `json:"created_at"`
	EndedAt     time.Time `json:"ended_at,omitempty"`
}

// Active reports whether the session has not been torn down.
func (r *Record) Active() bool {
	return r.EndedAt.IsZero()
}

// PurgeRecordTask deletes an ended record after its grace period.
const PurgeRecordTask = "records:purge"

type PurgeRecordPayload struct {
	SessionID string `json:"session_id"`
}
