// Package agent maintains the web tier's shared connection to the agent
// service: one lazily-established multiplexed channel carrying JSON message
// envelopes, request/response correlation over it, and session ownership
// verification on a dedicated channel.
package agent

// Message is the envelope exchanged with the agent service. Correlated
// requests carry a RequestID the agent echoes back; legacy replies omit it
// and are matched by the session id inside the payload.
type Message struct {
	Type      string         `json:"type"`
	RequestID string         `json:"requestId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Message types originated by this side.
const (
	TypeVerifySession = "VERIFY_SESSION"
	TypeSessionEnd    = "SESSION_END"
)

// Message types originated by the agent service.
const (
	TypeSessionVerified  = "SESSION_VERIFIED"
	TypeError            = "ERROR"
	TypeExplorationStep  = "EXPLORATION_STEP"
	TypeWelcomeMessage   = "WELCOME_MESSAGE"
	TypeSessionRecovered = "SESSION_RECOVERED"
)

// streamingTypes are the intermediate kinds the agent emits while working on
// a request. They never resolve a pending request; they accumulate on it and
// fan out to its stream callback.
var streamingTypes = map[string]struct{}{
	TypeExplorationStep:  {},
	TypeWelcomeMessage:   {},
	TypeSessionRecovered: {},
}

// IsStreaming reports whether t is an intermediate streaming kind.
func IsStreaming(t string) bool {
	_, ok := streamingTypes[t]
	return ok
}

// sessionIDKeys lists the payload field names a session id may arrive under.
// The name varies by call site on the agent side; this is a legacy
// compatibility seam and the order is load-bearing.
var sessionIDKeys = []string{"sessionId", "session_id", "quizSessionId"}

// SessionIDFromPayload extracts the session id from a payload, trying each
// known field name in order. Returns "" when none is present.
func SessionIDFromPayload(payload map[string]any) string {
	for _, key := range sessionIDKeys {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
