package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classbridge/internal/service"
)

type ConversationHandler struct {
	svc *service.Service
}

func NewConversationHandler(svc *service.Service) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// StartConversation POST /api/v1/conversations
func (h *ConversationHandler) StartConversation(c *gin.Context) {
	principal := principalFrom(c)

	var req StartConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	conv, err := h.svc.Start(c.Request.Context(), service.StartParams{
		UserID:      principal.UserID,
		ClassroomID: req.ClassroomID,
		AgentType:   req.AgentType,
		Topic:       req.Topic,
		Options:     req.Options,
	})
	if err != nil {
		respondError(c, mapServiceError(err), err)
		return
	}

	c.JSON(http.StatusCreated, ConversationResponse{
		SessionID: conv.SessionID,
		AgentType: conv.AgentType,
		UserID:    conv.UserID,
		Status:    "active",
		Welcome:   conv.Welcome,
	})
}

// GetConversation GET /api/v1/conversations/:id
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	principal := principalFrom(c)
	sessionID := c.Param("id")

	rec, err := h.svc.GetConversation(c.Request.Context(), sessionID, principal.UserID)
	if err != nil {
		respondError(c, mapServiceError(err), err)
		return
	}

	c.JSON(http.StatusOK, conversationResponse(rec))
}

// SendTurn POST /api/v1/conversations/:id/turns
func (h *ConversationHandler) SendTurn(c *gin.Context) {
	principal := principalFrom(c)
	sessionID := c.Param("id")

	var req TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	result, err := h.svc.SendTurn(c.Request.Context(), sessionID, principal.UserID, req.Input)
	if err != nil {
		respondError(c, mapServiceError(err), err)
		return
	}

	c.JSON(http.StatusOK, TurnResponse{
		SessionID: sessionID,
		RequestID: result.RequestID,
		Response:  result.Response,
	})
}

// EndConversation DELETE /api/v1/conversations/:id
func (h *ConversationHandler) EndConversation(c *gin.Context) {
	principal := principalFrom(c)
	sessionID := c.Param("id")

	if err := h.svc.End(c.Request.Context(), sessionID, principal.UserID); err != nil {
		respondError(c, mapServiceError(err), err)
		return
	}

	c.JSON(http.StatusOK, EndResponse{
		Status:    "ended",
		SessionID: sessionID,
	})
}

// StreamStats GET /api/v1/debug/streams
func (h *ConversationHandler) StreamStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.StreamStats())
}
