package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"classbridge/internal/agent"
	"classbridge/internal/records"
	"classbridge/internal/service"
)

var (
	ErrInvalidRequest = errors.New("invalid request")

	// ErrVerifyUnavailable is what browsers see when ownership could not be
	// checked because the agent service was unreachable. Deliberately not
	// a 403: the client should retry, not give up.
	ErrVerifyUnavailable = errors.New("session verification temporarily unavailable")

	ErrNotSessionOwner = errors.New("session does not belong to this user")
)

func respondError(c *gin.Context, code int, err error) {
	c.JSON(code, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func respondErrorWithDetails(c *gin.Context, code int, err error, details string) {
	c.JSON(code, ErrorResponse{
		Error:   err.Error(),
		Code:    code,
		Details: details,
	})
}

func abortWithError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

// mapServiceError translates service-layer failures into status codes. The
// distinction that matters most: ErrNotOwner is a denial (403) while
// transport failures are outages (503) so clients know whether to retry.
func mapServiceError(err error) int {
	var timeoutErr *agent.TimeoutError
	var agentErr *agent.AgentError

	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, records.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, service.ErrUnknownAgentType):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrNoAddress):
		return http.StatusInternalServerError
	case errors.Is(err, agent.ErrAgentUnavailable), errors.Is(err, agent.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout
	case errors.As(err, &agentErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// agentUnreachable reports whether err means the agent service could not be
// asked at all, as opposed to answering with a denial.
func agentUnreachable(err error) bool {
	var timeoutErr *agent.TimeoutError
	return errors.Is(err, agent.ErrAgentUnavailable) ||
		errors.Is(err, agent.ErrPoolClosed) ||
		errors.As(err, &timeoutErr)
}
