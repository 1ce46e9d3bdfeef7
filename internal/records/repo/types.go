package repo

import (
	"time"
)

const recordCacheTTL = time.Minute * 5

type RecordModel struct {
	tableName struct{} `pg:"session_records"`

	SessionID   string    `json:"session_id" pg:"session_id,pk"`
	UserID      string    `json:"user_id" pg:"user_id,notnull"`
	ClassroomID string    `json:"classroom_id" pg:"classroom_id"`
	AgentType   string    `json:"agent_type" pg:"agent_type,notnull"`
	CreatedAt   time.Time `json:"created_at" pg:"created_at,notnull"`
	EndedAt     time.Time `json:"ended_at" pg:"ended_at"`
}

type cacheRecord struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	ClassroomID string    `json:"classroom_id"`
	AgentType   string    `json:"agent_type"`
	CreatedAt   time.Time `json:"created_at"`
	EndedAt     time.Time `json:"ended_at"`
}

func recordCacheKey(sessionID string) string {
	return "record:" + sessionID + ":ownership"
}
