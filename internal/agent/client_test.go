package agent_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"classbridge/internal/agent"
	"classbridge/internal/agent/agenttest"
	"classbridge/internal/signer"
)

func newTestClient(t *testing.T, script *agenttest.Script, cfg agent.ClientConfig) *agent.Client {
	t.Helper()

	if cfg.Pool.URL == "" {
		cfg.Pool.URL = testAgentURL
	}
	s, err := signer.New("", false, testLogger())
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	c := agent.NewClient(cfg, script.Dial, s, testLogger())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSendResolvesMatchingReply(t *testing.T) {
	script := agenttest.NewScript(func(env agent.Message) []agent.Message {
		return []agent.Message{{
			Type:      "QUIZ_READY",
			RequestID: env.RequestID,
			Payload:   map[string]any{"sessionId": env.Payload["sessionId"], "text": "ready"},
		}}
	})
	c := newTestClient(t, script, agent.ClientConfig{})

	res, err := c.Send(context.Background(), agent.Request{
		Type:          "QUIZ_START",
		Payload:       map[string]any{"sessionId": "s-1", "userId": "u-1"},
		ResponseTypes: []string{"QUIZ_READY"},
	})
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}

	if res.Type != "QUIZ_READY" {
		t.Errorf("Expected QUIZ_READY, got %s", res.Type)
	}
	if res.RequestID == "" {
		t.Error("Expected a generated request id")
	}
	if res.Payload["text"] != "ready" {
		t.Errorf("Expected reply payload, got %+v", res.Payload)
	}

	sent := script.Sent()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 envelope on the wire, got %d", len(sent))
	}
	if sent[0].RequestID != res.RequestID {
		t.Errorf("Envelope request id %s does not match result %s", sent[0].RequestID, res.RequestID)
	}
}

// Two requests share one session; replies arrive in reverse order. Request
// id matching must hand each caller its own reply even though session-id
// matching would pick the oldest pending entry.
func TestConcurrentSendsStayIsolated(t *testing.T) {
	var (
		mu   sync.Mutex
		held []agent.Message
	)
	script := agenttest.NewScript(func(env agent.Message) []agent.Message {
		mu.Lock()
		defer mu.Unlock()
		held = append(held, env)
		if len(held) < 2 {
			return nil
		}
		var replies []agent.Message
		for i := len(held) - 1; i >= 0; i-- {
			replies = append(replies, agent.Message{
				Type:      "QUIZ_RESPONSE",
				RequestID: held[i].RequestID,
				Payload: map[string]any{
					"sessionId": held[i].Payload["sessionId"],
					"echo":      held[i].Payload["marker"],
				},
			})
		}
		return replies
	})
	c := newTestClient(t, script, agent.ClientConfig{})

	send := func(marker string) (*agent.Result, error) {
		return c.Send(context.Background(), agent.Request{
			Type:          "QUIZ_MESSAGE",
			Payload:       map[string]any{"sessionId": "s-shared", "marker": marker},
			ResponseTypes: []string{"QUIZ_RESPONSE"},
		})
	}

	var wg sync.WaitGroup
	results := make(map[string]*agent.Result, 2)
	errs := make(map[string]error, 2)
	var resMu sync.Mutex

	for _, marker := range []string{"first", "second"} {
		wg.Add(1)
		go func(marker string) {
			defer wg.Done()
			res, err := send(marker)
			resMu.Lock()
			results[marker] = res
			errs[marker] = err
			resMu.Unlock()
		}(marker)
	}
	wg.Wait()

	for _, marker := range []string{"first", "second"} {
		if errs[marker] != nil {
			t.Fatalf("Failed to send %q: %v", marker, errs[marker])
		}
		if got := results[marker].Payload["echo"]; got != marker {
			t.Errorf("Request %q got reply for %v", marker, got)
		}
	}
}

// Older agent builds reply without echoing the request id. Those replies
// fall back to session-id matching.
func TestLegacyReplyMatchesBySession(t *testing.T) {
	script := agenttest.NewScript(func(env agent.Message) []agent.Message {
		return []agent.Message{{
			Type:    "QUIZ_RESPONSE",
			Payload: map[string]any{"sessionId": env.Payload["sessionId"], "legacy": true},
		}}
	})
	c := newTestClient(t, script, agent.ClientConfig{})

	res, err := c.Send(context.Background(), agent.Request{
		Type:          "QUIZ_MESSAGE",
		Payload:       map[string]any{"sessionId": "s-legacy"},
		ResponseTypes: []string{"QUIZ_RESPONSE"},
	})
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	if res.Payload["legacy"] != true {
		t.Errorf("Expected legacy reply, got %+v", res.Payload)
	}
}

func TestStreamingMessagesAccumulate(t *testing.T) {
	script := agenttest.NewScript(func(env agent.Message) []agent.Message {
		sid := env.Payload["sessionId"]
		return []agent.Message{
			{Type: agent.TypeExplorationStep, Payload: map[string]any{"sessionId": sid, "seq": "1"}},
			{Type: agent.TypeExplorationStep, Payload: map[string]any{"sessionId": sid, "seq": "2"}},
			{Type: "ASSISTANT_RESPONSE", RequestID: env.RequestID, Payload: map[string]any{"sessionId": sid, "answer": "done"}},
		}
	})
	c := newTestClient(t, script, agent.ClientConfig{})

	var (
		mu   sync.Mutex
		seen []string
	)
	res, err := c.Send(context.Background(), agent.Request{
		Type:          "ASSISTANT_MESSAGE",
		Payload:       map[string]any{"sessionId": "s-stream"},
		ResponseTypes: []string{"ASSISTANT_RESPONSE"},
		OnStream: func(msg *agent.Message) {
			mu.Lock()
			seen = append(seen, msg.Payload["seq"].(string))
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}

	if len(res.Stream) != 2 {
		t.Fatalf("Expected 2 accumulated streaming messages, got %d", len(res.Stream))
	}
	for i, want := range []string{"1", "2"} {
		if got := res.Stream[i].Payload["seq"]; got != want {
			t.Errorf("Stream[%d]: expected seq %s, got %v", i, want, got)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "1" || seen[1] != "2" {
		t.Errorf("Expected callback order [1 2], got %v", seen)
	}
}

func TestErrorReplyRejectsRequest(t *testing.T) {
	script := agenttest.NewScript(func(env agent.Message) []agent.Message {
		return []agent.Message{{
			Type:      agent.TypeError,
			RequestID: env.RequestID,
			Payload:   map[string]any{"message": "agent exploded"},
		}}
	})
	c := newTestClient(t, script, agent.ClientConfig{})

	_, err := c.Send(context.Background(), agent.Request{
		Type:          "QUIZ_START",
		Payload:       map[string]any{"sessionId": "s-err"},
		ResponseTypes: []string{"QUIZ_READY"},
	})

	var agentErr *agent.AgentError
	if !errors.As(err, &agentErr) {
		t.Fatalf("Expected AgentError, got %v", err)
	}
	if agentErr.Message != "agent exploded" {
		t.Errorf("Expected agent's message, got %q", agentErr.Message)
	}
}

// A reply carrying the right request id but a type the request does not
// accept must not resolve it.
func TestUnexpectedReplyTypeIgnored(t *testing.T) {
	script := agenttest.NewScript(func(env agent.Message) []agent.Message {
		return []agent.Message{{
			Type:      "QUIZ_SOMETHING_ELSE",
			RequestID: env.RequestID,
			Payload:   map[string]any{"sessionId": env.Payload["sessionId"]},
		}}
	})
	c := newTestClient(t, script, agent.ClientConfig{})

	_, err := c.Send(context.Background(), agent.Request{
		Type:          "QUIZ_MESSAGE",
		Payload:       map[string]any{"sessionId": "s-mismatch"},
		ResponseTypes: []string{"QUIZ_RESPONSE"},
		Timeout:       100 * time.Millisecond,
	})

	var timeoutErr *agent.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Expected TimeoutError, got %v", err)
	}
}

func TestSendTimesOutWithoutReply(t *testing.T) {
	script := agenttest.NewScript(nil)
	c := newTestClient(t, script, agent.ClientConfig{})

	start := time.Now()
	_, err := c.Send(context.Background(), agent.Request{
		Type:          "QUIZ_MESSAGE",
		Payload:       map[string]any{"sessionId": "s-slow"},
		ResponseTypes: []string{"QUIZ_RESPONSE"},
		Timeout:       80 * time.Millisecond,
	})
	elapsed := time.Since(start)

	var timeoutErr *agent.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Expected TimeoutError, got %v", err)
	}
	if timeoutErr.RequestType != "QUIZ_MESSAGE" {
		t.Errorf("Expected request type in error, got %q", timeoutErr.RequestType)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Timeout took too long: %v", elapsed)
	}
}

func TestSendHonorsContextCancellation(t *testing.T) {
	script := agenttest.NewScript(nil)
	c := newTestClient(t, script, agent.ClientConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := c.Send(ctx, agent.Request{
		Type:          "QUIZ_MESSAGE",
		Payload:       map[string]any{"sessionId": "s-cancel"},
		ResponseTypes: []string{"QUIZ_RESPONSE"},
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestFireAndForget(t *testing.T) {
	script := agenttest.NewScript(nil)
	c := newTestClient(t, script, agent.ClientConfig{FireForgetGrace: 20 * time.Millisecond})

	res, err := c.Send(context.Background(), agent.Request{
		Type:    agent.TypeSessionEnd,
		Payload: map[string]any{"sessionId": "s-end"},
	})
	if err != nil {
		t.Fatalf("Failed to send fire-and-forget request: %v", err)
	}
	if res.RequestID == "" {
		t.Error("Expected a request id even without a reply")
	}

	sent := script.SentOfType(agent.TypeSessionEnd)
	if len(sent) != 1 {
		t.Fatalf("Expected 1 SESSION_END envelope, got %d", len(sent))
	}
}

func TestSendSignsPayload(t *testing.T) {
	script := agenttest.NewScript(func(env agent.Message) []agent.Message {
		return []agent.Message{{
			Type:      "QUIZ_READY",
			RequestID: env.RequestID,
			Payload:   map[string]any{"sessionId": env.Payload["sessionId"]},
		}}
	})

	s, err := signer.New("wire-secret", false, testLogger())
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	c := agent.NewClient(agent.ClientConfig{
		Pool: agent.PoolConfig{URL: testAgentURL},
	}, script.Dial, s, testLogger())
	defer c.Close()

	if _, err := c.Send(context.Background(), agent.Request{
		Type:          "QUIZ_START",
		Payload:       map[string]any{"sessionId": "s-signed"},
		ResponseTypes: []string{"QUIZ_READY"},
	}); err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}

	sent := script.Sent()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 envelope, got %d", len(sent))
	}
	if err := s.Verify(sent[0].Payload); err != nil {
		t.Errorf("Envelope payload failed verification: %v", err)
	}
}
