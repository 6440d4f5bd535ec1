package httpapi

import (
	"net/http"

	"telecom-billing/internal/apperr"
	"telecom-billing/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StatusFor maps an error kind onto its HTTP status.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AbortWithError writes {"error": msg}. Unclassified errors are logged and
// reported without their text.
func AbortWithError(c *gin.Context, err error) {
	status := StatusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		logger.FromGin(c).Error("request failed", "err", err)
		msg = "internal error"
	case http.StatusServiceUnavailable:
		logger.FromGin(c).Warn("transient failure", "err", err)
		msg = "temporarily unavailable, retry later"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
