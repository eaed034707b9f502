package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"onboarding-calls/pkg/apperr"
	"onboarding-calls/pkg/logger"
)

// RespondError writes err as {"error": ..., "details": ...}. Errors without a
// Kind are logged and reported as 500 without leaking their text.
func RespondError(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok {
		logger.FromGin(c).Error("unhandled error", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := e.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "status", status, "err", err)
	}
	body := gin.H{"error": e.Message}
	if status == http.StatusInternalServerError {
		body["error"] = "internal error"
	}
	if e.Details != nil {
		body["details"] = e.Details
	}
	c.AbortWithStatusJSON(status, body)
}
