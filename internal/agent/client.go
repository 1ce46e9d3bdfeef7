package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"classbridge/internal/monitor"
	"classbridge/internal/signer"
)

// Request describes one correlated exchange with the agent service.
type Request struct {
	// Type is the outbound message type, e.g. "QUIZ_START".
	Type string

	// Payload is signed and sent as the envelope payload. When it carries a
	// session id the request also receives that session's streaming messages.
	Payload map[string]any

	// ResponseTypes lists the terminal types that resolve this request. An
	// empty list makes the request fire-and-forget: Send returns after a
	// short grace period with no reply expected.
	ResponseTypes []string

	// OnStream, when set, observes each intermediate streaming message for
	// this request's session as it arrives, in order.
	OnStream func(*Message)

	// Timeout overrides the client default for this request.
	Timeout time.Duration
}

// Result is a resolved request: the terminal reply plus every streaming
// message that arrived for the session while the request was pending.
type Result struct {
	RequestID string
	Type      string
	Payload   map[string]any
	Stream    []*Message
}

// ClientConfig carries the pool settings plus correlation defaults.
type ClientConfig struct {
	Pool            PoolConfig
	RequestTimeout  time.Duration
	FireForgetGrace time.Duration
}

// Client correlates requests with replies over the shared connection. Every
// outbound envelope gets a generated request id; the reply that echoes it
// resolves the pending entry. Replies without a request id fall back to
// session-id matching for older agent builds.
type Client struct {
	pool    *Pool
	signer  *signer.Signer
	logger  *slog.Logger
	timeout time.Duration
	grace   time.Duration

	mu        sync.Mutex
	byRequest map[string]*pending
	bySession map[string][]*pending
}

// pending is one in-flight request. ch has capacity 1 so the read loop never
// blocks on delivery; accepts holds the terminal types that resolve it.
type pending struct {
	id        string
	sessionID string
	accepts   map[string]struct{}
	onStream  func(*Message)
	stream    []*Message
	ch        chan outcome
}

type outcome struct {
	msg *Message
	err error
}

func (p *pending) acceptsType(t string) bool {
	_, ok := p.accepts[t]
	return ok
}

// NewClient builds a Client with its own connection pool. dial may be nil in
// production (websocket) and is the test seam otherwise.
func NewClient(cfg ClientConfig, dial DialFunc, s *signer.Signer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.FireForgetGrace <= 0 {
		cfg.FireForgetGrace = 250 * time.Millisecond
	}
	c := &Client{
		signer:    s,
		logger:    logger,
		timeout:   cfg.RequestTimeout,
		grace:     cfg.FireForgetGrace,
		byRequest: make(map[string]*pending),
		bySession: make(map[string][]*pending),
	}
	c.pool = NewPool(cfg.Pool, dial, c.dispatch, logger)
	return c
}

// Pool exposes the underlying connection pool for lifecycle management.
func (c *Client) Pool() *Pool {
	return c.pool
}

// Close retires the client and its connection.
func (c *Client) Close() error {
	return c.pool.Close()
}

// Send signs and writes one envelope, then waits for the reply that carries
// its request id. The pending entry is registered before the write so a fast
// reply cannot slip past the correlator, and always removed on the way out
// regardless of how the wait ends.
func (c *Client) Send(ctx context.Context, req Request) (*Result, error) {
	signed, err := c.signer.Sign(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("signing %s payload: %w", req.Type, err)
	}

	conn, err := c.pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	p := &pending{
		id:        uuid.New().String(),
		sessionID: SessionIDFromPayload(req.Payload),
		accepts:   make(map[string]struct{}, len(req.ResponseTypes)),
		onStream:  req.OnStream,
		ch:        make(chan outcome, 1),
	}
	for _, t := range req.ResponseTypes {
		p.accepts[t] = struct{}{}
	}
	c.add(p)
	defer c.remove(p)

	data, err := json.Marshal(&Message{Type: req.Type, RequestID: p.id, Payload: signed})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", req.Type, err)
	}

	monitor.AgentRequestsTotal.Inc()
	start := time.Now()
	if err := conn.WriteMessage(data); err != nil {
		monitor.AgentRequestErrors.Inc()
		return nil, fmt.Errorf("%w: writing %s: %v", ErrAgentUnavailable, req.Type, err)
	}

	if len(req.ResponseTypes) == 0 {
		// Fire-and-forget: linger briefly so the frame flushes before any
		// teardown that follows, then report success.
		select {
		case <-time.After(c.grace):
		case <-ctx.Done():
		}
		return &Result{RequestID: p.id}, nil
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-p.ch:
		if out.err != nil {
			monitor.AgentRequestErrors.Inc()
			return nil, out.err
		}
		monitor.AgentRequestLatency.Observe(time.Since(start).Seconds())
		return &Result{
			RequestID: p.id,
			Type:      out.msg.Type,
			Payload:   out.msg.Payload,
			Stream:    p.stream,
		}, nil
	case <-timer.C:
		monitor.AgentRequestErrors.Inc()
		return nil, &TimeoutError{RequestID: p.id, RequestType: req.Type, Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) add(p *pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byRequest[p.id] = p
	if p.sessionID != "" {
		c.bySession[p.sessionID] = append(c.bySession[p.sessionID], p)
	}
	monitor.AgentPendingRequests.Inc()
}

// remove is idempotent; resolution and the Send defer both call it.
func (c *Client) remove(p *pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(p)
}

func (c *Client) removeLocked(p *pending) {
	if _, ok := c.byRequest[p.id]; !ok {
		return
	}
	delete(c.byRequest, p.id)
	if p.sessionID != "" {
		list := c.bySession[p.sessionID]
		for i, cand := range list {
			if cand == p {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(c.bySession, p.sessionID)
		} else {
			c.bySession[p.sessionID] = list
		}
	}
	monitor.AgentPendingRequests.Dec()
}

// dispatch routes one inbound message. Streaming kinds accumulate on every
// pending request for their session; anything else resolves (or rejects, for
// ERROR) exactly one pending request.
func (c *Client) dispatch(msg *Message) {
	if IsStreaming(msg.Type) {
		c.dispatchStream(msg)
		return
	}

	c.mu.Lock()
	p := c.matchLocked(msg)
	if p != nil {
		c.removeLocked(p)
	}
	c.mu.Unlock()

	if p == nil {
		c.logger.Debug("unmatched agent message",
			"type", msg.Type,
			"request_id", msg.RequestID,
			"session_id", SessionIDFromPayload(msg.Payload))
		return
	}

	if msg.Type == TypeError {
		p.ch <- outcome{err: newAgentError(p.id, msg)}
		return
	}
	p.ch <- outcome{msg: msg}
}

// matchLocked finds the pending request a reply belongs to. A reply carrying
// a request id only ever matches that id; the session-id scan is kept solely
// for legacy agent replies that omit the id.
//
// Deprecated: the session-id branch goes away once no deployed agent build
// sends uncorrelated replies.
func (c *Client) matchLocked(msg *Message) *pending {
	if msg.RequestID != "" {
		p := c.byRequest[msg.RequestID]
		if p == nil {
			return nil
		}
		if msg.Type == TypeError || p.acceptsType(msg.Type) {
			return p
		}
		return nil
	}

	sid := SessionIDFromPayload(msg.Payload)
	if sid == "" {
		return nil
	}
	for _, p := range c.bySession[sid] {
		if msg.Type == TypeError || p.acceptsType(msg.Type) {
			return p
		}
	}
	return nil
}

func (c *Client) dispatchStream(msg *Message) {
	sid := SessionIDFromPayload(msg.Payload)
	if sid == "" {
		c.logger.Debug("streaming message without session id", "type", msg.Type)
		return
	}

	c.mu.Lock()
	targets := make([]*pending, 0, len(c.bySession[sid]))
	for _, p := range c.bySession[sid] {
		p.stream = append(p.stream, msg)
		if p.onStream != nil {
			targets = append(targets, p)
		}
	}
	c.mu.Unlock()

	for _, p := range targets {
		p.onStream(msg)
	}
}
