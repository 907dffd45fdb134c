package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/procurement-lifecycle/internal/domain/failure"
)

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	// Kind is the failure kind of a refused request
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Shortfall string `json:"shortfall,omitempty"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   msg,
		Kind:    failure.KindInvalidRequest.String(),
	})
}

// statusFor maps a failure kind to its HTTP status
func statusFor(kind failure.Kind) int {
	switch kind {
	case failure.KindNotFound:
		return http.StatusNotFound
	case failure.KindPermissionDenied:
		return http.StatusForbidden
	case failure.KindIllegalTransition, failure.KindConcurrentModification, failure.KindDuplicateAttempt:
		return http.StatusConflict
	case failure.KindInsufficientFunds, failure.KindBudgetUnavailable:
		return http.StatusUnprocessableEntity
	case failure.KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err. Domain refusals carry their message; anything else is an
// infrastructure fault and is logged without leaking details.
func (h *Handlers) fail(c *gin.Context, op string, err error) {
	kind := failure.KindOf(err)
	if kind == "" {
		h.logger.Error("Request failed", "operation", op, "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "internal error"})
		return
	}

	resp := Response{
		Success:   false,
		Error:     message(err),
		Kind:      kind.String(),
		Retryable: failure.IsRetryable(err),
	}
	if shortfall, ok := failure.ShortfallOf(err); ok {
		resp.Shortfall = shortfall.String()
	}
	c.JSON(statusFor(kind), resp)
}

func message(err error) string {
	var fe *failure.Error
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	return err.Error()
}
