package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"classbridge/internal/monitor"
	"classbridge/internal/service"
	"classbridge/internal/stream"
)

// StreamHandler is the SSE bridge between browser tabs and session event
// streams.
type StreamHandler struct {
	svc       *service.Service
	heartbeat time.Duration
	buffer    int
}

func NewStreamHandler(svc *service.Service, heartbeat time.Duration, buffer int) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &StreamHandler{svc: svc, heartbeat: heartbeat, buffer: buffer}
}

// StreamEvents GET /api/v1/conversations/:id/events
//
// Before any stream state is touched, ownership is verified with the agent
// service on its dedicated connection. The error contract matters to the
// frontend: 403 means the agent denied this user (give up), 503 with
// Retry-After means the check itself could not run (retry).
func (h *StreamHandler) StreamEvents(c *gin.Context) {
	principal := principalFrom(c)
	sessionID := c.Param("id")

	verdict, err := h.svc.VerifyOwnership(c.Request.Context(), sessionID, principal.UserID)
	if err != nil {
		if agentUnreachable(err) {
			c.Header("Retry-After", "5")
			respondError(c, http.StatusServiceUnavailable, ErrVerifyUnavailable)
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if !verdict.Valid {
		respondError(c, http.StatusForbidden, ErrNotSessionOwner)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache, no-transform")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	// SSE connections outlive the server's WriteTimeout; left in place it
	// would cut the TCP connection mid-stream.
	rc := http.NewResponseController(c.Writer)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Warn("Failed to disable write deadline for SSE", "error", err)
	}

	// The connected event is synthetic, written before subscribing so it
	// always precedes replayed history.
	if err := writeSSEEvent(c.Writer, SSEEvent{
		Type:      string(stream.EventConnected),
		SessionID: sessionID,
		Timestamp: formatTime(time.Now()),
	}); err != nil {
		return
	}
	c.Writer.Flush()

	// Subscriber callbacks must not block the manager, so events land in a
	// bounded channel. Overflow ends this stream; the client reconnects
	// and catches up from the replay buffer.
	events := make(chan stream.Event, h.buffer)
	var overflowed atomic.Bool
	unsubscribe := h.svc.Subscribe(sessionID, func(ev stream.Event) {
		select {
		case events <- ev:
		default:
			overflowed.Store(true)
		}
	})
	defer unsubscribe()

	monitor.SSEActiveStreams.Inc()
	defer monitor.SSEActiveStreams.Dec()

	slog.Info("Event stream opened", "session_id", sessionID, "user_id", principal.UserID)

	c.Stream(func(w io.Writer) bool {
		if overflowed.Load() {
			slog.Warn("Event stream overflowed, dropping connection", "session_id", sessionID)
			return false
		}

		select {
		case ev := <-events:
			if err := writeSSEEvent(w, toSSEEvent(ev)); err != nil {
				return false
			}
			monitor.SSEEventsSent.Inc()
			// gin flushes after each step, so a terminal frame reaches
			// the client before the stream closes.
			return !stream.Terminal(ev.Type)

		case <-c.Request.Context().Done():
			return false

		case <-time.After(h.heartbeat):
			fmt.Fprintf(w, ": ping\n\n")
			return true
		}
	})

	slog.Info("Event stream closed", "session_id", sessionID)
}

func toSSEEvent(ev stream.Event) SSEEvent {
	return SSEEvent{
		Type:      string(ev.Type),
		SessionID: ev.SessionID,
		Payload:   ev.Payload,
		Timestamp: formatTime(ev.Timestamp),
	}
}

func writeSSEEvent(w io.Writer, ev SSEEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
