package agent_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"classbridge/internal/agent"
	"classbridge/internal/agent/agenttest"
)

// staticMirror is an OwnershipMirror backed by a fixed map.
type staticMirror map[string]string

func (m staticMirror) Owner(sessionID string) (string, bool) {
	owner, ok := m[sessionID]
	return owner, ok
}

func newTestVerifier(t *testing.T, script *agenttest.Script, mirror agent.OwnershipMirror) *agent.Verifier {
	t.Helper()
	c := newTestClient(t, script, agent.ClientConfig{})
	return agent.NewVerifier(c, time.Second, mirror, testLogger())
}

func verifyScript(reply map[string]any) *agenttest.Script {
	return agenttest.NewScript(func(env agent.Message) []agent.Message {
		if env.Type != agent.TypeVerifySession {
			return nil
		}
		return []agent.Message{{
			Type:      agent.TypeSessionVerified,
			RequestID: env.RequestID,
			Payload:   reply,
		}}
	})
}

func TestVerifyApproved(t *testing.T) {
	script := verifyScript(map[string]any{"valid": true, "live": true, "recoverable": false})
	v := newTestVerifier(t, script, nil)

	result, err := v.Verify(context.Background(), agent.VerifyRequest{
		SessionID: "s-1",
		UserID:    "u-1",
		AgentType: "quiz",
	})
	if err != nil {
		t.Fatalf("Failed to verify session: %v", err)
	}
	if !result.Valid || !result.Live {
		t.Errorf("Expected valid live session, got %+v", result)
	}

	sent := script.SentOfType(agent.TypeVerifySession)
	if len(sent) != 1 {
		t.Fatalf("Expected 1 VERIFY_SESSION envelope, got %d", len(sent))
	}
	payload := sent[0].Payload
	if payload["sessionId"] != "s-1" || payload["userId"] != "u-1" || payload["agentType"] != "quiz" {
		t.Errorf("Verify envelope missing fields: %+v", payload)
	}
}

// An agent that had to reload the session from durable storage still
// authorizes; the recovery only shows up in the result flags.
func TestVerifyRecoveredSession(t *testing.T) {
	script := verifyScript(map[string]any{"valid": true, "live": false, "recoverable": true})
	v := newTestVerifier(t, script, nil)

	result, err := v.Verify(context.Background(), agent.VerifyRequest{SessionID: "s-r", UserID: "u-r"})
	if err != nil {
		t.Fatalf("Failed to verify session: %v", err)
	}
	if !result.Valid {
		t.Error("Recovered sessions must still authorize")
	}
	if result.Live || !result.Recoverable {
		t.Errorf("Expected a recovered verdict, got %+v", result)
	}
}

func TestVerifyDenied(t *testing.T) {
	t.Run("ExplicitDenial", func(t *testing.T) {
		script := verifyScript(map[string]any{"valid": false, "reason": "session expired"})
		v := newTestVerifier(t, script, nil)

		result, err := v.Verify(context.Background(), agent.VerifyRequest{SessionID: "s-2", UserID: "u-2"})
		if err != nil {
			t.Fatalf("A denial must not surface as an error: %v", err)
		}
		if result.Valid {
			t.Error("Expected denial")
		}
		if result.Reason != "session expired" {
			t.Errorf("Expected reason from agent, got %q", result.Reason)
		}
	})

	t.Run("ErrorReply", func(t *testing.T) {
		script := agenttest.NewScript(func(env agent.Message) []agent.Message {
			return []agent.Message{{
				Type:      agent.TypeError,
				RequestID: env.RequestID,
				Payload:   map[string]any{"message": "unknown session"},
			}}
		})
		v := newTestVerifier(t, script, nil)

		result, err := v.Verify(context.Background(), agent.VerifyRequest{SessionID: "s-3", UserID: "u-3"})
		if err != nil {
			t.Fatalf("An ERROR reply is a denial, not an outage: %v", err)
		}
		if result.Valid {
			t.Error("Expected denial")
		}
		if result.Reason != "unknown session" {
			t.Errorf("Expected reason from ERROR payload, got %q", result.Reason)
		}
	})
}

func TestVerifyUnavailable(t *testing.T) {
	script := agenttest.NewScript(nil)
	script.RefuseDials(errors.New("connection refused"))
	v := newTestVerifier(t, script, nil)

	result, err := v.Verify(context.Background(), agent.VerifyRequest{SessionID: "s-4", UserID: "u-4"})
	if result != nil {
		t.Errorf("Expected no verdict when the agent is unreachable, got %+v", result)
	}
	if !errors.Is(err, agent.ErrAgentUnavailable) {
		t.Errorf("Expected ErrAgentUnavailable, got %v", err)
	}
}

// A mirror mismatch is logged but never overrides the agent's verdict.
func TestVerifyMirrorDisagreement(t *testing.T) {
	script := verifyScript(map[string]any{"valid": true, "live": true})
	v := newTestVerifier(t, script, staticMirror{"s-5": "someone-else"})

	result, err := v.Verify(context.Background(), agent.VerifyRequest{SessionID: "s-5", UserID: "u-5"})
	if err != nil {
		t.Fatalf("Failed to verify session: %v", err)
	}
	if !result.Valid {
		t.Error("Agent verdict must win over the local mirror")
	}
}
