package service

import (
	"errors"
	"time"
)

var (
	ErrUnknownAgentType = errors.New("unknown agent type")

	// ErrNotOwner means the caller is authenticated but the session belongs
	// to someone else.
	ErrNotOwner = errors.New("session does not belong to user")
)

// agentPrefixes maps the public agent type to the prefix of its wire
// message family, e.g. quiz -> QUIZ_START / QUIZ_MESSAGE / QUIZ_RESPONSE.
var agentPrefixes = map[string]string{
	"quiz":      "QUIZ",
	"assistant": "ASSISTANT",
	"qna":       "QNA",
}

// AgentTypes lists the supported agent types.
func AgentTypes() []string {
	out := make([]string, 0, len(agentPrefixes))
	for t := range agentPrefixes {
		out = append(out, t)
	}
	return out
}

func wirePrefix(agentType string) (string, bool) {
	p, ok := agentPrefixes[agentType]
	return p, ok
}

// Config carries the per-operation deadlines and the purge grace.
type Config struct {
	StartTimeout time.Duration
	TurnTimeout  time.Duration
	EndTimeout   time.Duration
	PurgeGrace   time.Duration
}

func (c Config) withDefaults() Config {
	if c.StartTimeout <= 0 {
		c.StartTimeout = 60 * time.Second
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 30 * time.Second
	}
	if c.EndTimeout <= 0 {
		c.EndTimeout = 5 * time.Second
	}
	if c.PurgeGrace <= 0 {
		c.PurgeGrace = 60 * time.Second
	}
	return c
}

// StartParams describes a new conversation.
type StartParams struct {
	UserID      string
	ClassroomID string
	AgentType   string
	Topic       string

	// Options are agent-type specific start parameters, merged into the
	// start payload (question counts, difficulty, subject areas).
	Options map[string]any
}

// Conversation is a started session as returned to the caller.
type Conversation struct {
	SessionID string         `json:"session_id"`
	AgentType string         `json:"agent_type"`
	UserID    string         `json:"user_id"`
	Welcome   map[string]any `json:"welcome,omitempty"`
}

// TurnResult is the agent's terminal reply to one turn.
type TurnResult struct {
	RequestID string         `json:"request_id"`
	Response  map[string]any `json:"response"`
}
