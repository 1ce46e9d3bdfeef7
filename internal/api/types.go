package api

import (
	"time"

	"classbridge/internal/records"
)

type StartConversationRequest struct {
	AgentType   string         `json:"agent_type" binding:"required,oneof=quiz assistant qna"`
	ClassroomID string         `json:"classroom_id"`
	Topic       string         `json:"topic"`
	Options     map[string]any `json:"options"`
}

type TurnRequest struct {
	Input string `json:"input" binding:"required"`
}

type ConversationResponse struct {
	SessionID   string         `json:"session_id"`
	AgentType   string         `json:"agent_type"`
	UserID      string         `json:"user_id"`
	ClassroomID string         `json:"classroom_id,omitempty"`
	Status      string         `json:"status"`
	CreatedAt   string         `json:"created_at"`
	Welcome     map[string]any `json:"welcome,omitempty"`
}

type TurnResponse struct {
	SessionID string         `json:"session_id"`
	RequestID string         `json:"request_id"`
	Response  map[string]any `json:"response"`
}

type EndResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// SSEEvent is the envelope written on the event stream.
type SSEEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
}

func conversationResponse(rec *records.Record) ConversationResponse {
	status := "active"
	if !rec.Active() {
		status = "ended"
	}
	return ConversationResponse{
		SessionID:   rec.SessionID,
		AgentType:   rec.AgentType,
		UserID:      rec.UserID,
		ClassroomID: rec.ClassroomID,
		Status:      status,
		CreatedAt:   formatTime(rec.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
