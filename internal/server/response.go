package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/abhisek/mathbuddy/internal/apperr"
	"github.com/abhisek/mathbuddy/internal/identity"
	"github.com/abhisek/mathbuddy/internal/logger"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	// Round is set on stale_round so the client can resync.
	Round int `json:"round,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func respondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// respondError writes the error envelope for err. Server-side failures are
// logged with their cause and shown to the client with a generic message.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	status, code := apperr.Classify(err)
	if errors.Is(err, identity.ErrUnavailable) {
		status, code = http.StatusServiceUnavailable, "identity_unavailable"
	}

	body := APIError{Message: apperr.PublicMessage(err), Code: code}
	if status == http.StatusServiceUnavailable {
		body.Message = "identity service unavailable, please try again later"
	}
	var stale *apperr.StaleRoundError
	if errors.As(err, &stale) {
		body.Round = stale.Actual
	}

	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: body})
}

func badRequest(c *gin.Context, log *logger.Logger, format string, args ...any) {
	respondError(c, log, apperr.Validation(format, args...))
}
