package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classbridge/internal/auth"
	"classbridge/internal/service"
)

// RouterConfig tunes the SSE bridge endpoint.
type RouterConfig struct {
	Heartbeat        time.Duration
	SubscriberBuffer int
}

func NewRouter(svc *service.Service, authenticator auth.Authenticator, cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())

	// Global health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:    "ok",
			Timestamp: formatTime(time.Now()),
		})
	})

	conversationHandler := NewConversationHandler(svc)
	streamHandler := NewStreamHandler(svc, cfg.Heartbeat, cfg.SubscriberBuffer)

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(authenticator))
	{
		conversations := v1.Group("/conversations")
		{
			conversations.POST("", conversationHandler.StartConversation)
			conversations.GET("/:id", conversationHandler.GetConversation)
			conversations.DELETE("/:id", conversationHandler.EndConversation)

			conversations.POST("/:id/turns", conversationHandler.SendTurn)
			conversations.GET("/:id/events", streamHandler.StreamEvents)
		}

		v1.GET("/debug/streams", conversationHandler.StreamStats)
	}

	return r
}
