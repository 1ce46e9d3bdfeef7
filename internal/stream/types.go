package stream

import "time"

type EventType string

// Browser-facing event kinds. Replayable kinds are buffered for late
// subscribers; terminal kinds end a session's stream and are delivered to
// whoever is connected at that moment, never replayed.
const (
	// EventConnected is synthesized per SSE connection by the bridge
	// endpoint. It never passes through the manager.
	EventConnected EventType = "connected"

	EventExplorationStep  EventType = "exploration_step"
	EventWelcomeMessage   EventType = "welcome_message"
	EventSessionRecovered EventType = "session_recovered"
	EventAnswerFeedback   EventType = "answer_feedback"

	EventDone  EventType = "done"
	EventError EventType = "error"
)

var replayable = map[EventType]struct{}{
	EventExplorationStep:  {},
	EventWelcomeMessage:   {},
	EventSessionRecovered: {},
	EventAnswerFeedback:   {},
}

// Replayable reports whether events of type t are buffered for replay.
func Replayable(t EventType) bool {
	_, ok := replayable[t]
	return ok
}

// Terminal reports whether t ends a session's stream.
func Terminal(t EventType) bool {
	return t == EventDone || t == EventError
}

// Event is one entry on a session's stream.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Ownership ties a session to the user who started it. Kept in memory beside
// the session's stream so authorization metadata survives between requests
// without a store round trip.
type Ownership struct {
	UserID      string
	ClassroomID string
	AgentType   string
	CreatedAt   time.Time
}

// Stats is a point-in-time snapshot for debugging and monitoring.
type Stats struct {
	Sessions       int `json:"sessions"`
	Subscribers    int `json:"subscribers"`
	BufferedEvents int `json:"buffered_events"`
}
