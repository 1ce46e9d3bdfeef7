package agent

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAgentUnavailable wraps transport-level failures: dial errors,
	// write errors, a closed pool. Callers distinguish it from an agent
	// that answered with a denial.
	ErrAgentUnavailable = errors.New("agent service unavailable")

	// ErrNoAddress means AGENT_SERVICE_URL is not configured. Surfaced to
	// the first caller that needs the connection, never at startup.
	ErrNoAddress = errors.New("agent service address not configured")

	ErrPoolClosed = errors.New("agent connection pool closed")
)

// TimeoutError is returned when no matching reply arrived within the
// request's correlation window. It names the request so log lines and
// error responses can be traced back to the envelope that timed out.
type TimeoutError struct {
	RequestID   string
	RequestType string
	Timeout     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent request %s (%s) timed out after %s", e.RequestID, e.RequestType, e.Timeout)
}

// AgentError is an ERROR reply from the agent service resolving a pending
// request. Unlike ErrAgentUnavailable, the agent was reachable and answered.
type AgentError struct {
	RequestID string
	Message   string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent rejected request %s: %s", e.RequestID, e.Message)
}

// newAgentError extracts the failure description from an ERROR payload.
func newAgentError(requestID string, msg *Message) *AgentError {
	reason := "unspecified error"
	for _, key := range []string{"message", "error", "reason"} {
		if s, ok := msg.Payload[key].(string); ok && s != "" {
			reason = s
			break
		}
	}
	return &AgentError{RequestID: requestID, Message: reason}
}
