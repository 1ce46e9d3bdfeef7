package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/redis/go-redis/v9"

	"classbridge/internal/records"
)

var _ records.Store = (*Repository)(nil)

// Repository stores ownership records in Postgres with a redis cache in
// front of reads. Writes invalidate the cached entry.
type Repository struct {
	db    *pg.DB
	redis redis.Cmdable
}

func NewRepository(db *pg.DB, redis redis.Cmdable) *Repository {
	return &Repository{
		db:    db,
		redis: redis,
	}
}

func (r *Repository) Create(ctx context.Context, record *records.Record) error {
	model := &RecordModel{
		SessionID:   record.SessionID,
		UserID:      record.UserID,
		ClassroomID: record.ClassroomID,
		AgentType:   record.AgentType,
		CreatedAt:   record.CreatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now()
	}

	// Re-registering a session id revives the record under its new owner.
	_, err := r.db.ModelContext(ctx, model).
		OnConflict("(session_id) DO UPDATE").
		Set("user_id = EXCLUDED.user_id, classroom_id = EXCLUDED.classroom_id, agent_type = EXCLUDED.agent_type, created_at = EXCLUDED.created_at, ended_at = NULL").
		Insert()
	if err != nil {
		return err
	}

	if r.redis != nil {
		_ = r.redis.Del(ctx, recordCacheKey(record.SessionID)).Err()
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, sessionID string) (*records.Record, error) {
	if r.redis != nil {
		val, err := r.redis.Get(ctx, recordCacheKey(sessionID)).Result()
		if err == nil {
			var cached cacheRecord
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				return &records.Record{
					SessionID:   cached.SessionID,
					UserID:      cached.UserID,
					ClassroomID: cached.ClassroomID,
					AgentType:   cached.AgentType,
					CreatedAt:   cached.CreatedAt,
					EndedAt:     cached.EndedAt,
				}, nil
			}
		}
	}

	model := &RecordModel{SessionID: sessionID}
	err := r.db.ModelContext(ctx, model).WherePK().Select()
	if err != nil {
		if errors.Is(err, pg.ErrNoRows) {
			return nil, records.ErrNotFound
		}
		return nil, err
	}

	record := &records.Record{
		SessionID:   model.SessionID,
		UserID:      model.UserID,
		ClassroomID: model.ClassroomID,
		AgentType:   model.AgentType,
		CreatedAt:   model.CreatedAt,
		EndedAt:     model.EndedAt,
	}

	if r.redis != nil {
		cached := &cacheRecord{
			SessionID:   model.SessionID,
			UserID:      model.UserID,
			ClassroomID: model.ClassroomID,
			AgentType:   model.AgentType,
			CreatedAt:   model.CreatedAt,
			EndedAt:     model.EndedAt,
		}
		if b, err := json.Marshal(cached); err == nil {
			_ = r.redis.Set(ctx, recordCacheKey(sessionID), b, recordCacheTTL).Err()
		}
	}

	return record, nil
}

func (r *Repository) MarkEnded(ctx context.Context, sessionID string) error {
	res, err := r.db.ModelContext(ctx, (*RecordModel)(nil)).
		Set("ended_at = ?", time.Now()).
		Where("session_id = ?", sessionID).
		Update()
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return records.ErrNotFound
	}

	if r.redis != nil {
		_ = r.redis.Del(ctx, recordCacheKey(sessionID)).Err()
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.ModelContext(ctx, (*RecordModel)(nil)).
		Where("session_id = ?", sessionID).
		Delete()
	if err != nil {
		return err
	}

	if r.redis != nil {
		_ = r.redis.Del(ctx, recordCacheKey(sessionID)).Err()
	}
	return nil
}

func (r *Repository) ListActive(ctx context.Context) ([]*records.Record, error) {
	var models []RecordModel
	err := r.db.ModelContext(ctx, &models).
		Where("ended_at IS NULL").
		Order("created_at DESC").
		Select()
	if err != nil {
		return nil, err
	}

	out := make([]*records.Record, 0, len(models))
	for _, m := range models {
		out = append(out, &records.Record{
			SessionID:   m.SessionID,
			UserID:      m.UserID,
			ClassroomID: m.ClassroomID,
			AgentType:   m.AgentType,
			CreatedAt:   m.CreatedAt,
			EndedAt:     m.EndedAt,
		})
	}
	return out, nil
}
