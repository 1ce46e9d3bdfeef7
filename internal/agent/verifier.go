package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"classbridge/internal/monitor"
)

// OwnershipMirror is the bridge-local view of session ownership. The
// verifier consults it only to flag anomalies; the agent's verdict is
// authoritative.
type OwnershipMirror interface {
	Owner(sessionID string) (userID string, ok bool)
}

// VerifyRequest asks whether userID owns the live session sessionID.
type VerifyRequest struct {
	SessionID string
	UserID    string
	AgentType string
}

// VerifyResult is the agent's verdict. Valid=false with a nil error means
// the agent answered and denied; transport failures surface as errors so
// callers can distinguish "no" from "could not ask".
type VerifyResult struct {
	Valid       bool
	Live        bool
	Recoverable bool
	Reason      string
}

// Verifier performs session ownership checks against the agent service on
// its own client, isolated from conversational traffic so a saturated or
// wedged conversation channel cannot starve authorization.
type Verifier struct {
	client  *Client
	timeout time.Duration
	mirror  OwnershipMirror
	logger  *slog.Logger
}

// NewVerifier builds a Verifier on a dedicated client. mirror may be nil.
func NewVerifier(client *Client, timeout time.Duration, mirror OwnershipMirror, logger *slog.Logger) *Verifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{client: client, timeout: timeout, mirror: mirror, logger: logger}
}

// Verify sends VERIFY_SESSION and interprets the SESSION_VERIFIED reply. An
// explicit ERROR reply counts as a denial, not an outage.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	monitor.VerifyChecksTotal.Inc()

	payload := map[string]any{
		"sessionId": req.SessionID,
		"userId":    req.UserID,
	}
	if req.AgentType != "" {
		payload["agentType"] = req.AgentType
	}

	res, err := v.client.Send(ctx, Request{
		Type:          TypeVerifySession,
		Payload:       payload,
		ResponseTypes: []string{TypeSessionVerified},
		Timeout:       v.timeout,
	})
	if err != nil {
		var agentErr *AgentError
		if errors.As(err, &agentErr) {
			monitor.VerifyDeniedTotal.Inc()
			return &VerifyResult{Valid: false, Reason: agentErr.Message}, nil
		}
		monitor.VerifyUnavailableTotal.Inc()
		return nil, err
	}

	result := &VerifyResult{
		Valid:       boolField(res.Payload, "valid"),
		Live:        boolField(res.Payload, "live"),
		Recoverable: boolField(res.Payload, "recoverable"),
	}
	if s, ok := res.Payload["reason"].(string); ok {
		result.Reason = s
	}

	if !result.Valid {
		monitor.VerifyDeniedTotal.Inc()
	}
	if result.Valid && result.Recoverable {
		// The agent reloaded this session from durable storage: it was not
		// in memory, meaning the agent restarted since the session began.
		// Authorized, but worth watching for clusters.
		monitor.VerifyRecoveredTotal.Inc()
		v.logger.Info("session verified after agent-side recovery",
			"session_id", req.SessionID,
			"user_id", req.UserID)
	}
	if result.Valid && v.mirror != nil {
		if owner, ok := v.mirror.Owner(req.SessionID); ok && owner != req.UserID {
			// The agent approved a user our local records disagree with.
			// Trust the agent, but this deserves a loud log line.
			v.logger.Warn("ownership mirror disagrees with agent verdict",
				"session_id", req.SessionID,
				"user_id", req.UserID,
				"recorded_owner", owner)
		}
	}
	return result, nil
}

func boolField(payload map[string]any, key string) bool {
	b, _ := payload[key].(bool)
	return b
}
