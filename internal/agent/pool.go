package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"classbridge/internal/monitor"
)

// PoolConfig controls connection establishment and recovery.
type PoolConfig struct {
	URL              string
	ConnectTimeout   time.Duration
	RedialBackoff    time.Duration
	RedialBackoffMax time.Duration
	RedialAttempts   int
}

func (c *PoolConfig) withDefaults() PoolConfig {
	out := *c
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 10 * time.Second
	}
	if out.RedialBackoff <= 0 {
		out.RedialBackoff = 500 * time.Millisecond
	}
	if out.RedialBackoffMax <= 0 {
		out.RedialBackoffMax = 15 * time.Second
	}
	if out.RedialAttempts <= 0 {
		out.RedialAttempts = 6
	}
	return out
}

// Pool owns at most one live connection to the agent service and hands it to
// every caller. The connection is established lazily on first use; concurrent
// first callers share a single in-flight connect attempt instead of racing to
// dial. A dropped connection is redialed in the background with capped
// backoff, and failing that, the next caller triggers a fresh attempt.
type Pool struct {
	cfg    PoolConfig
	dial   DialFunc
	sink   func(*Message)
	logger *slog.Logger
	done   chan struct{}

	mu      sync.Mutex
	conn    Conn
	attempt *connectAttempt
	closed  bool
}

// connectAttempt is the shared future all waiters of one dial observe.
type connectAttempt struct {
	ready chan struct{}
	conn  Conn
	err   error
}

// NewPool builds a Pool. sink receives every decoded inbound message and may
// be nil; dial defaults to the websocket transport.
func NewPool(cfg PoolConfig, dial DialFunc, sink func(*Message), logger *slog.Logger) *Pool {
	if dial == nil {
		dial = DialWebsocket
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:    cfg.withDefaults(),
		dial:   dial,
		sink:   sink,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Get returns the live connection, dialing first if none exists. All callers
// arriving during a dial wait on the same attempt and observe the same
// outcome. ctx bounds only this caller's wait, not the attempt itself.
func (p *Pool) Get(ctx context.Context) (Conn, error) {
	if p.cfg.URL == "" {
		return nil, ErrNoAddress
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.conn != nil {
		conn := p.conn
		p.mu.Unlock()
		return conn, nil
	}
	a := p.attempt
	if a == nil {
		a = &connectAttempt{ready: make(chan struct{})}
		p.attempt = a
		go p.connect(a)
	}
	p.mu.Unlock()

	select {
	case <-a.ready:
		return a.conn, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) connect(a *connectAttempt) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout)
	defer cancel()

	monitor.AgentConnectAttempts.Inc()
	p.logger.Info("connecting to agent service", "url", p.cfg.URL)
	conn, err := p.dial(ctx, p.cfg.URL)

	p.mu.Lock()
	p.attempt = nil
	if err == nil && p.closed {
		p.mu.Unlock()
		conn.Close()
		a.err = ErrPoolClosed
		close(a.ready)
		return
	}
	if err == nil {
		p.conn = conn
		go p.readLoop(conn)
	}
	p.mu.Unlock()

	if err != nil {
		monitor.AgentConnectFailures.Inc()
		p.logger.Error("agent connection failed", "url", p.cfg.URL, "error", err)
		a.err = fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
		close(a.ready)
		return
	}

	p.logger.Info("agent connection established", "url", p.cfg.URL)
	a.conn = conn
	close(a.ready)
}

// readLoop drains one connection, decoding envelopes into the sink. A frame
// that fails to decode is logged and skipped; a read error retires the
// connection and kicks off background redial.
func (p *Pool) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			p.lost(conn, err)
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			p.logger.Warn("discarding malformed agent message", "error", err)
			continue
		}
		if p.sink != nil {
			p.sink(&msg)
		}
	}
}

func (p *Pool) lost(conn Conn, err error) {
	p.mu.Lock()
	stale := p.conn != conn
	if !stale {
		p.conn = nil
	}
	closed := p.closed
	p.mu.Unlock()

	conn.Close()
	if stale || closed {
		return
	}

	p.logger.Warn("agent connection lost", "error", err)
	go p.redial()
}

// redial re-establishes the connection with exponential backoff. Waiters
// that arrive mid-redial share the in-flight attempt through Get. Giving up
// is not fatal: the pool goes back to lazy dialing on next use.
func (p *Pool) redial() {
	backoff := p.cfg.RedialBackoff
	for i := 1; i <= p.cfg.RedialAttempts; i++ {
		select {
		case <-p.done:
			return
		case <-time.After(backoff):
		}

		_, err := p.Get(context.Background())
		if err == nil {
			p.logger.Info("agent connection restored", "attempt", i)
			return
		}
		if errors.Is(err, ErrPoolClosed) {
			return
		}
		p.logger.Warn("agent redial failed", "attempt", i, "backoff", backoff.String(), "error", err)

		backoff *= 2
		if backoff > p.cfg.RedialBackoffMax {
			backoff = p.cfg.RedialBackoffMax
		}
	}
	p.logger.Error("agent redial attempts exhausted, will dial on next request")
}

// Reset closes and clears the current connection in one step, leaving the
// pool usable. The next Get dials fresh.
func (p *Pool) Reset() {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Close retires the pool permanently.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	p.conn = nil
	close(p.done)
	p.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
