package records

import "context"

// Store persists session ownership records. Create is an upsert: writing an
// existing session id revives it with the new owner and a cleared EndedAt.
type Store interface {
	Create(ctx context.Context, record *Record) error
	GetByID(ctx context.Context, sessionID string) (*Record, error)
	MarkEnded(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
	ListActive(ctx context.Context) ([]*Record, error)
}
