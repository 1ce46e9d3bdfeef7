// Package agenttest provides an in-memory stand-in for the agent service.
// A Script is wired in through the dial seam and answers envelopes the way
// a real agent build would, so correlation, streaming and failure handling
// can be exercised without a websocket listener.
package agenttest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"classbridge/internal/agent"
)

// RespondFunc computes the frames the scripted agent sends back for one
// envelope, in delivery order. Returning nil leaves the request pending.
// It may be called concurrently when the client writes from multiple
// goroutines; stateful scripts must synchronize themselves.
type RespondFunc func(agent.Message) []agent.Message

// Script plays the agent service's side of a conversation.
type Script struct {
	mu       sync.Mutex
	respond  RespondFunc
	delay    time.Duration
	dialErr  error
	failNext int
	dials    int
	conns    []*Conn
	sent     []agent.Message
}

func NewScript(respond RespondFunc) *Script {
	return &Script{respond: respond}
}

// Dial is the agent.DialFunc tests hand to NewClient or NewPool.
func (s *Script) Dial(ctx context.Context, url string) (agent.Conn, error) {
	s.mu.Lock()
	s.dials++
	delay := s.delay
	err := s.dialErr
	if err == nil && s.failNext > 0 {
		s.failNext--
		err = errors.New("scripted dial failure")
	}
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	c := newConn(s)
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()
	return c, nil
}

// RefuseDials makes every future dial fail with err.
func (s *Script) RefuseDials(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialErr = err
}

// FailNextDials makes the next n dials fail, then lets dialing recover.
func (s *Script) FailNextDials(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// SetDialDelay stalls every dial by d, widening race windows on purpose.
func (s *Script) SetDialDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// DialCount reports how many dials were attempted, including failed ones.
func (s *Script) DialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Latest returns the most recently established connection, or nil.
func (s *Script) Latest() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

// Sent returns every envelope the client wrote, across connections, in
// write order.
func (s *Script) Sent() []agent.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agent.Message, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentOfType filters Sent by envelope type.
func (s *Script) SentOfType(t string) []agent.Message {
	var out []agent.Message
	for _, msg := range s.Sent() {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

func (s *Script) record(msg agent.Message) RespondFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.respond
}

// Conn is one scripted connection. Frames the script emits queue in an
// inbox until the pool's read loop drains them.
type Conn struct {
	script *Script
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once
}

func newConn(s *Script) *Conn {
	return &Conn{
		script: s,
		inbox:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *Conn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbox:
		return data, nil
	case <-c.closed:
		return nil, errors.New("scripted connection closed")
	}
}

func (c *Conn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("scripted connection closed")
	default:
	}

	var msg agent.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	respond := c.script.record(msg)
	if respond == nil {
		return nil
	}
	for _, reply := range respond(msg) {
		c.Deliver(reply)
	}
	return nil
}

// Deliver queues an unsolicited frame, as if the agent pushed it.
func (c *Conn) Deliver(msg agent.Message) {
	data, _ := json.Marshal(msg)
	c.DeliverRaw(data)
}

// DeliverRaw queues raw bytes, letting tests exercise malformed frames.
func (c *Conn) DeliverRaw(data []byte) {
	select {
	case c.inbox <- data:
	case <-c.closed:
	}
}

// Close drops the connection. Blocked reads return an error, which the
// pool treats as a lost connection.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
