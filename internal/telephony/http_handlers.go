package telephony

import (
	"context"
	"net/http"
	"time"

	"telecom-billing/internal/calls"
	"telecom-billing/internal/httpapi"
	"telecom-billing/internal/metrics"
	"telecom-billing/pkg/logger"

	"github.com/gin-gonic/gin"
)

type CallIngestor interface {
	Ingest(ctx context.Context, c CompletedCall) (calls.Outcome, error)
}

type RequestVerifier interface {
	Verify(r *http.Request) bool
}

// StatusCallbackHandler accepts Twilio call status callbacks. Only the
// completed status is billed; every other status is acknowledged and dropped.
//
// A nil Verifier disables signature checks (local and dev only; config
// requires an auth token in production).
type StatusCallbackHandler struct {
	Ingestor CallIngestor
	Verifier RequestVerifier

	Now func() time.Time
}

func (h StatusCallbackHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Ingestor == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call ingestion not configured"})
		return
	}

	if err := c.Request.ParseForm(); err != nil {
		log.Warn("twilio status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if h.Verifier != nil && !h.Verifier.Verify(c.Request) {
		metrics.WebhookEventsTotal.WithLabelValues(providerTwilio, "rejected").Inc()
		log.Warn("twilio signature rejected", "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}

	form, err := ParseTwilioStatusCallback(c.Request)
	if err != nil {
		log.Warn("twilio status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !form.Completed() {
		metrics.WebhookEventsTotal.WithLabelValues(providerTwilio, "ignored").Inc()
		c.Status(http.StatusNoContent)
		return
	}

	out, err := h.Ingestor.Ingest(c.Request.Context(), form.ToCompletedCall(h.Now()))
	if err != nil {
		log.Warn("twilio call ingestion failed", "call_sid", form.CallSid, "to", form.To, "err", err)
		httpapi.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"call_id":    out.Call.ID,
		"invoice_id": out.Call.InvoiceID,
		"duplicate":  out.Duplicate,
	})
}
