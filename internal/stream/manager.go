// Package stream fans session events out to their subscribers and keeps a
// bounded replay buffer per session, so a browser tab that connects after a
// session started still sees what it missed.
package stream

import (
	"log/slog"
	"sync"
	"time"

	"classbridge/internal/monitor"
)

// Config sizes the per-session replay buffer and delays topic teardown.
type Config struct {
	BufferCap    int
	CleanupDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferCap <= 0 {
		c.BufferCap = 50
	}
	if c.CleanupDelay <= 0 {
		c.CleanupDelay = 45 * time.Second
	}
	return c
}

type subscriber struct {
	fn func(Event)
}

// topic is one session's stream state. All fields are guarded by the
// manager's mutex.
type topic struct {
	subscribers []*subscriber
	buffer      []Event
	ownership   *Ownership
	cleanup     *time.Timer
	cleanupGen  uint64
}

func (t *topic) empty() bool {
	return len(t.subscribers) == 0 && len(t.buffer) == 0 && t.ownership == nil && t.cleanup == nil
}

// Manager is the in-process pub/sub hub keyed by session id. Fan-out is
// synchronous and in publish order under one lock, which is also what makes
// replay-then-live handoff gapless: a subscriber is registered in the same
// critical section that replays the buffer to it.
//
// Subscriber callbacks run with the manager lock held. They must not block
// and must not call back into the Manager; hand the event to a buffered
// channel and return.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	topics map[string]*topic
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg.withDefaults(),
		logger: logger,
		topics: make(map[string]*topic),
	}
}

// Publish delivers ev to every subscriber of its session, in order. The
// session's topic is created on first publish. Replayable kinds are appended
// to the bounded buffer, evicting from the front when full; terminal kinds
// are never buffered and arm the session's cleanup timer.
func (m *Manager) Publish(ev Event) {
	if ev.SessionID == "" {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	m.mu.Lock()
	t := m.topicLocked(ev.SessionID)

	if Replayable(ev.Type) {
		t.buffer = append(t.buffer, ev)
		if over := len(t.buffer) - m.cfg.BufferCap; over > 0 {
			t.buffer = t.buffer[over:]
		}
	}

	for _, sub := range t.subscribers {
		sub.fn(ev)
	}

	if Terminal(ev.Type) {
		m.armCleanupLocked(ev.SessionID, t)
	}
	m.mu.Unlock()

	monitor.StreamPublishedTotal.Inc()
}

// Subscribe replays the session's buffered events to fn and registers it for
// everything published afterwards, atomically. The returned function removes
// the subscription and is safe to call more than once.
func (m *Manager) Subscribe(sessionID string, fn func(Event)) (unsubscribe func()) {
	sub := &subscriber{fn: fn}

	m.mu.Lock()
	t := m.topicLocked(sessionID)
	for _, ev := range t.buffer {
		fn(ev)
	}
	t.subscribers = append(t.subscribers, sub)
	m.mu.Unlock()

	monitor.StreamSubscribers.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.unsubscribe(sessionID, sub)
			monitor.StreamSubscribers.Dec()
		})
	}
}

func (m *Manager) unsubscribe(sessionID string, sub *subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.topics[sessionID]
	if !ok {
		return
	}
	for i, s := range t.subscribers {
		if s == sub {
			t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
			break
		}
	}
	if t.empty() {
		m.deleteTopicLocked(sessionID)
	}
}

// RegisterOwnership records who owns a session and cancels any pending
// cleanup, so re-registration keeps a recovered session alive.
func (m *Manager) RegisterOwnership(sessionID string, o Ownership) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.topicLocked(sessionID)
	t.ownership = &o
	if t.cleanup != nil {
		t.cleanup.Stop()
		t.cleanup = nil
		m.logger.Debug("cancelled pending stream cleanup", "session_id", sessionID)
	}
}

// GetOwnership returns the recorded owner of a session, if any.
func (m *Manager) GetOwnership(sessionID string) (Ownership, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.topics[sessionID]
	if !ok || t.ownership == nil {
		return Ownership{}, false
	}
	return *t.ownership, true
}

// Owner returns just the owning user id. Satisfies the verifier's mirror
// interface without an adapter.
func (m *Manager) Owner(sessionID string) (string, bool) {
	o, ok := m.GetOwnership(sessionID)
	return o.UserID, ok
}

// ScheduleCleanup arms (or re-arms) the delayed teardown of a session's
// stream state. The delay gives late subscribers a window to catch the
// buffered history before it disappears.
func (m *Manager) ScheduleCleanup(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.topics[sessionID]
	if !ok {
		return
	}
	m.armCleanupLocked(sessionID, t)
}

func (m *Manager) armCleanupLocked(sessionID string, t *topic) {
	if t.cleanup != nil {
		t.cleanup.Stop()
	}
	t.cleanupGen++
	gen := t.cleanupGen
	t.cleanup = time.AfterFunc(m.cfg.CleanupDelay, func() {
		m.cleanupExpired(sessionID, gen)
	})
}

// cleanupExpired runs on the timer goroutine. The generation check discards
// callbacks from timers that were re-armed or cancelled after this one fired.
func (m *Manager) cleanupExpired(sessionID string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.topics[sessionID]
	if !ok || t.cleanupGen != gen || t.cleanup == nil {
		return
	}
	m.deleteTopicLocked(sessionID)
	m.logger.Info("stream state cleaned up", "session_id", sessionID)
}

// Stats reports current sessions, subscribers and buffered events.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Sessions: len(m.topics)}
	for _, t := range m.topics {
		s.Subscribers += len(t.subscribers)
		s.BufferedEvents += len(t.buffer)
	}
	return s
}

func (m *Manager) topicLocked(sessionID string) *topic {
	t, ok := m.topics[sessionID]
	if !ok {
		t = &topic{}
		m.topics[sessionID] = t
		monitor.StreamSessionsActive.Inc()
	}
	return t
}

func (m *Manager) deleteTopicLocked(sessionID string) {
	t, ok := m.topics[sessionID]
	if !ok {
		return
	}
	if t.cleanup != nil {
		t.cleanup.Stop()
	}
	delete(m.topics, sessionID)
	monitor.StreamSessionsActive.Dec()
}
