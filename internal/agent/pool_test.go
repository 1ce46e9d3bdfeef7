package agent_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"classbridge/internal/agent"
	"classbridge/internal/agent/agenttest"
)

const testAgentURL = "ws://agent.test/ws"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestPool(t *testing.T, script *agenttest.Script, cfg agent.PoolConfig, sink func(*agent.Message)) *agent.Pool {
	t.Helper()

	if cfg.URL == "" {
		cfg.URL = testAgentURL
	}
	p := agent.NewPool(cfg, script.Dial, sink, testLogger())
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPoolSharesSingleDial(t *testing.T) {
	script := agenttest.NewScript(nil)
	script.SetDialDelay(50 * time.Millisecond)
	p := newTestPool(t, script, agent.PoolConfig{}, nil)

	ctx := context.Background()
	const callers = 10

	var wg sync.WaitGroup
	conns := make([]agent.Conn, callers)
	errs := make([]error, callers)

	wg.Add(callers)
	for i := range callers {
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = p.Get(ctx)
		}(i)
	}
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("Failed to get connection for caller %d: %v", i, errs[i])
		}
		if conns[i] != conns[0] {
			t.Errorf("Caller %d got a different connection", i)
		}
	}
	if got := script.DialCount(); got != 1 {
		t.Errorf("Expected 1 dial for %d concurrent callers, got %d", callers, got)
	}
}

func TestPoolNoAddress(t *testing.T) {
	script := agenttest.NewScript(nil)
	p := agent.NewPool(agent.PoolConfig{}, script.Dial, nil, testLogger())
	defer p.Close()

	if _, err := p.Get(context.Background()); !errors.Is(err, agent.ErrNoAddress) {
		t.Errorf("Expected ErrNoAddress, got %v", err)
	}
	if script.DialCount() != 0 {
		t.Errorf("Expected no dial without an address, got %d", script.DialCount())
	}
}

func TestPoolDialFailure(t *testing.T) {
	script := agenttest.NewScript(nil)
	script.FailNextDials(1)
	p := newTestPool(t, script, agent.PoolConfig{}, nil)

	ctx := context.Background()

	if _, err := p.Get(ctx); !errors.Is(err, agent.ErrAgentUnavailable) {
		t.Fatalf("Expected ErrAgentUnavailable on first get, got %v", err)
	}

	// A failed attempt must not wedge the pool: the next caller dials fresh.
	conn, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection after transient failure: %v", err)
	}
	if conn == nil {
		t.Fatal("Expected a connection after transient failure")
	}
	if got := script.DialCount(); got != 2 {
		t.Errorf("Expected 2 dials, got %d", got)
	}
}

func TestPoolRedialsLostConnection(t *testing.T) {
	script := agenttest.NewScript(nil)
	p := newTestPool(t, script, agent.PoolConfig{
		RedialBackoff:    10 * time.Millisecond,
		RedialBackoffMax: 50 * time.Millisecond,
		RedialAttempts:   5,
	}, nil)

	ctx := context.Background()
	first, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection: %v", err)
	}

	// Drop the connection from the agent's side.
	script.Latest().Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if script.DialCount() >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if script.DialCount() < 2 {
		t.Fatal("Pool never redialed the lost connection")
	}

	second, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection after redial: %v", err)
	}
	if second == first {
		t.Error("Expected a fresh connection after the old one was lost")
	}
}

func TestPoolResetForcesFreshDial(t *testing.T) {
	script := agenttest.NewScript(nil)
	p := newTestPool(t, script, agent.PoolConfig{}, nil)

	ctx := context.Background()
	first, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection: %v", err)
	}

	p.Reset()

	second, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection after reset: %v", err)
	}
	if second == first {
		t.Error("Expected a fresh connection after reset")
	}
	if got := script.DialCount(); got != 2 {
		t.Errorf("Expected 2 dials, got %d", got)
	}
}

func TestPoolClosed(t *testing.T) {
	script := agenttest.NewScript(nil)
	p := newTestPool(t, script, agent.PoolConfig{}, nil)

	if _, err := p.Get(context.Background()); err != nil {
		t.Fatalf("Failed to get connection: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Failed to close pool: %v", err)
	}

	if _, err := p.Get(context.Background()); !errors.Is(err, agent.ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
}

func TestPoolSkipsMalformedFrames(t *testing.T) {
	received := make(chan *agent.Message, 4)
	script := agenttest.NewScript(nil)
	p := newTestPool(t, script, agent.PoolConfig{}, func(msg *agent.Message) {
		received <- msg
	})

	if _, err := p.Get(context.Background()); err != nil {
		t.Fatalf("Failed to get connection: %v", err)
	}

	conn := script.Latest()
	conn.DeliverRaw([]byte("{this is not json"))
	conn.Deliver(agent.Message{Type: agent.TypeWelcomeMessage, Payload: map[string]any{"sessionId": "s-1"}})

	select {
	case msg := <-received:
		if msg.Type != agent.TypeWelcomeMessage {
			t.Errorf("Expected WELCOME_MESSAGE, got %s", msg.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for decoded message")
	}

	select {
	case msg := <-received:
		t.Errorf("Unexpected extra message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
