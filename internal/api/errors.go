package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "notification-engine/internal/errors"
)

func statusFor(err error) int {
	switch {
	case apperrors.IsNotFound(err):
		return http.StatusNotFound
	case apperrors.IsInvalidRequest(err):
		return http.StatusBadRequest
	case apperrors.IsConcurrencyConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal errors are logged and not
// echoed to the caller.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Errorf("%s failed: %v", op, err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	h.logger.Debugf("%s rejected: %v", op, err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	h.logger.Debugf("Invalid request body: %v", err)
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
}

func intQuery(c *gin.Context, key string, def int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil {
		return v
	}
	return def
}
