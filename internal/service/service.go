// Package service coordinates conversations between the classroom webapp
// and the agent service: starting sessions, relaying turns, fanning agent
// events out to browser streams, and tearing everything down.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"classbridge/internal/agent"
	"classbridge/internal/records"
	"classbridge/internal/records/worker"
	"classbridge/internal/signer"
	"classbridge/internal/stream"
)

// Service ties the agent client, the verifier, the stream manager and the
// record store together. Queue may be nil (tests, queue-less deployments);
// purge tasks are then skipped.
type Service struct {
	Agent    *agent.Client
	Verifier *agent.Verifier
	Streams  *stream.Manager
	Records  records.Store
	Queue    *asynq.Client
	Logger   *slog.Logger

	cfg Config
}

func NewService(
	agentClient *agent.Client,
	verifier *agent.Verifier,
	streams *stream.Manager,
	store records.Store,
	queue *asynq.Client,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Agent:    agentClient,
		Verifier: verifier,
		Streams:  streams,
		Records:  store,
		Queue:    queue,
		Logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

var reservedStartKeys = map[string]struct{}{
	"sessionId":      {},
	"userId":         {},
	"classroomId":    {},
	"topic":          {},
	signer.AuthField: {},
}

// Start opens a new conversation with the requested agent type. Ownership is
// registered before the agent is contacted so event subscribers and
// authorization have something to attach to from the first moment; a failed
// start tears that state back down.
func (s *Service) Start(ctx context.Context, params StartParams) (*Conversation, error) {
	prefix, ok := wirePrefix(params.AgentType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgentType, params.AgentType)
	}

	sessionID := uuid.New().String()
	now := time.Now()

	s.Streams.RegisterOwnership(sessionID, stream.Ownership{
		UserID:      params.UserID,
		ClassroomID: params.ClassroomID,
		AgentType:   params.AgentType,
		CreatedAt:   now,
	})
	if err := s.Records.Create(ctx, &records.Record{
		SessionID:   sessionID,
		UserID:      params.UserID,
		ClassroomID: params.ClassroomID,
		AgentType:   params.AgentType,
		CreatedAt:   now,
	}); err != nil {
		// The in-memory side is authoritative while the process lives;
		// losing the durable mirror only hurts restart recovery.
		s.Logger.Warn("Failed to persist session record", "session_id", sessionID, "error", err)
	}

	res, err := s.Agent.Send(ctx, agent.Request{
		Type:          prefix + "_START",
		Payload:       startPayload(sessionID, params),
		ResponseTypes: []string{prefix + "_READY"},
		OnStream:      s.publishAgentStream(sessionID),
		Timeout:       s.cfg.StartTimeout,
	})
	if err != nil {
		s.Logger.Error("Conversation start failed",
			"session_id", sessionID,
			"agent_type", params.AgentType,
			"error", err)
		s.Streams.ScheduleCleanup(sessionID)
		s.finalizeRecord(ctx, sessionID)
		return nil, err
	}

	s.Logger.Info("Conversation started",
		"session_id", sessionID,
		"agent_type", params.AgentType,
		"user_id", params.UserID)

	return &Conversation{
		SessionID: sessionID,
		AgentType: params.AgentType,
		UserID:    params.UserID,
		Welcome:   signer.StripAuthFields(res.Payload),
	}, nil
}

// SendTurn relays one user turn to the session's agent and returns the
// terminal reply. Intermediate events reach the session's stream as they
// arrive; the reply itself is republished as answer_feedback so every open
// tab sees the outcome, not just the one that posted.
func (s *Service) SendTurn(ctx context.Context, sessionID, userID, input string) (*TurnResult, error) {
	own, err := s.ownershipFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if own.UserID != userID {
		return nil, ErrNotOwner
	}
	prefix, ok := wirePrefix(own.AgentType)
	if !ok {
		return nil, fmt.Errorf("%w: session %s recorded with agent type %q", ErrUnknownAgentType, sessionID, own.AgentType)
	}

	res, err := s.Agent.Send(ctx, agent.Request{
		Type: prefix + "_MESSAGE",
		Payload: map[string]any{
			"sessionId": sessionID,
			"input":     input,
		},
		ResponseTypes: []string{prefix + "_RESPONSE"},
		OnStream:      s.publishAgentStream(sessionID),
		Timeout:       s.cfg.TurnTimeout,
	})
	if err != nil {
		return nil, err
	}

	response := signer.StripAuthFields(res.Payload)
	s.Streams.Publish(stream.Event{
		Type:      stream.EventAnswerFeedback,
		SessionID: sessionID,
		Payload:   response,
	})

	return &TurnResult{RequestID: res.RequestID, Response: response}, nil
}

// End tears a conversation down: the agent is notified fire-and-forget, the
// stream receives its terminal done event, and the durable record is marked
// ended and queued for purge. Teardown proceeds even when the agent service
// is unreachable.
func (s *Service) End(ctx context.Context, sessionID, userID string) error {
	own, err := s.ownershipFor(ctx, sessionID)
	if err != nil {
		return err
	}
	if own.UserID != userID {
		return ErrNotOwner
	}

	endCtx, cancel := context.WithTimeout(ctx, s.cfg.EndTimeout)
	defer cancel()
	if _, err := s.Agent.Send(endCtx, agent.Request{
		Type:    agent.TypeSessionEnd,
		Payload: map[string]any{"sessionId": sessionID},
	}); err != nil {
		s.Logger.Warn("Session end notification failed", "session_id", sessionID, "error", err)
	}

	s.Streams.Publish(stream.Event{
		Type:      stream.EventDone,
		SessionID: sessionID,
		Payload:   map[string]any{"reason": "ended"},
	})
	s.finalizeRecord(ctx, sessionID)

	s.Logger.Info("Conversation ended", "session_id", sessionID, "user_id", userID)
	return nil
}

// VerifyOwnership asks the agent service whether the session belongs to the
// user. The local ownership entry only contributes the agent type hint; the
// verdict is the agent's.
func (s *Service) VerifyOwnership(ctx context.Context, sessionID, userID string) (*agent.VerifyResult, error) {
	agentType := ""
	if own, ok := s.Streams.GetOwnership(sessionID); ok {
		agentType = own.AgentType
	}
	return s.Verifier.Verify(ctx, agent.VerifyRequest{
		SessionID: sessionID,
		UserID:    userID,
		AgentType: agentType,
	})
}

// Subscribe attaches fn to the session's event stream, replaying buffered
// history first. The returned function detaches it.
func (s *Service) Subscribe(sessionID string, fn func(stream.Event)) func() {
	return s.Streams.Subscribe(sessionID, fn)
}

// GetConversation returns the session's record, owner only.
func (s *Service) GetConversation(ctx context.Context, sessionID, userID string) (*records.Record, error) {
	own, err := s.ownershipFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if own.UserID != userID {
		return nil, ErrNotOwner
	}
	return s.Records.GetByID(ctx, sessionID)
}

// StreamStats exposes the stream manager's counters for the debug endpoint.
func (s *Service) StreamStats() stream.Stats {
	return s.Streams.Stats()
}

// ownershipFor resolves a session's ownership, rebuilding the in-memory
// entry from the durable record when this process has never seen the
// session (web tier restart).
func (s *Service) ownershipFor(ctx context.Context, sessionID string) (stream.Ownership, error) {
	if own, ok := s.Streams.GetOwnership(sessionID); ok {
		return own, nil
	}

	rec, err := s.Records.GetByID(ctx, sessionID)
	if err != nil {
		return stream.Ownership{}, err
	}
	if !rec.Active() {
		return stream.Ownership{}, records.ErrNotFound
	}

	own := stream.Ownership{
		UserID:      rec.UserID,
		ClassroomID: rec.ClassroomID,
		AgentType:   rec.AgentType,
		CreatedAt:   rec.CreatedAt,
	}
	s.Streams.RegisterOwnership(sessionID, own)
	s.Logger.Info("Rebuilt session ownership from record", "session_id", sessionID)
	return own, nil
}

// finalizeRecord marks the durable record ended and schedules its purge.
func (s *Service) finalizeRecord(ctx context.Context, sessionID string) {
	if err := s.Records.MarkEnded(ctx, sessionID); err != nil && !errors.Is(err, records.ErrNotFound) {
		s.Logger.Warn("Failed to mark record ended", "session_id", sessionID, "error", err)
	}

	if s.Queue == nil {
		return
	}
	task, err := worker.NewPurgeTask(sessionID)
	if err != nil {
		s.Logger.Warn("Failed to build purge task", "session_id", sessionID, "error", err)
		return
	}
	if _, err := s.Queue.Enqueue(task, asynq.ProcessIn(s.cfg.PurgeGrace)); err != nil {
		s.Logger.Warn("Failed to enqueue purge task", "session_id", sessionID, "error", err)
	}
}

// publishAgentStream adapts agent streaming messages for one session into
// browser stream events.
func (s *Service) publishAgentStream(sessionID string) func(*agent.Message) {
	return func(msg *agent.Message) {
		et := mapAgentEventType(msg.Type)
		if et == "" {
			s.Logger.Debug("Dropping unmapped agent event", "type", msg.Type, "session_id", sessionID)
			return
		}
		s.Streams.Publish(stream.Event{
			Type:      et,
			SessionID: sessionID,
			Payload:   signer.StripAuthFields(msg.Payload),
			Timestamp: time.Now(),
		})
	}
}

func mapAgentEventType(wireType string) stream.EventType {
	switch wireType {
	case agent.TypeExplorationStep:
		return stream.EventExplorationStep
	case agent.TypeWelcomeMessage:
		return stream.EventWelcomeMessage
	case agent.TypeSessionRecovered:
		return stream.EventSessionRecovered
	}
	return ""
}

func startPayload(sessionID string, params StartParams) map[string]any {
	payload := map[string]any{
		"sessionId": sessionID,
		"userId":    params.UserID,
	}
	if params.ClassroomID != "" {
		payload["classroomId"] = params.ClassroomID
	}
	if params.Topic != "" {
		payload["topic"] = params.Topic
	}
	for k, v := range params.Options {
		if _, reserved := reservedStartKeys[k]; reserved {
			continue
		}
		payload[k] = v
	}
	return payload
}
