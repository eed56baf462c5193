package api

import (
	"errors"
	"net/http"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAvailabilityConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPaymentNotSuccessful):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError aborts the request with the status for err. Infrastructure failures are logged and
// answered with a generic message.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err))
		resp = errorResponse{Error: "internal error"}
	}

	c.AbortWithStatusJSON(status, resp)
}
