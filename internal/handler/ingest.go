package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"signalrelay/internal/pipeline"
)

// Submitter is the slice of the pipeline the ingestion endpoints call.
type Submitter interface {
	Submit(ctx context.Context, raw []byte, source pipeline.Source) (pipeline.AdmissionResult, error)
}

// IngestHandler exposes the two alert entry points: the TradingView webhook
// and the email bridge. Both grammars converge on the same pipeline; the
// responses use the flat shape alert senders expect, not the admin envelope.
type IngestHandler struct {
	Pipeline Submitter
	Secret   string
	Logger   *zap.Logger
}

func (h *IngestHandler) Register(r *gin.Engine) {
	r.POST("/tv-webhook", h.webhook)
	r.GET("/webhook-test", h.webhookTest)
	r.POST("/email-ingest", h.email)
}

func (h *IngestHandler) webhook(c *gin.Context) {
	if !secretMatch(c.GetHeader("X-TV-Secret"), h.Secret) {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "invalid secret"})
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "unreadable body"})
		return
	}
	h.submit(c, raw, pipeline.SourceWebhookJSON)
}

func (h *IngestHandler) email(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "unreadable body"})
		return
	}
	if !secretMatch(pipeline.EmailSecret(raw), h.Secret) {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "invalid secret"})
		return
	}
	h.submit(c, raw, pipeline.SourceEmailKV)
}

func (h *IngestHandler) submit(c *gin.Context, raw []byte, source pipeline.Source) {
	result, err := h.Pipeline.Submit(c.Request.Context(), raw, source)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("submit failed", zap.String("source", string(source)), zap.Error(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}

	switch result.Outcome {
	case pipeline.OutcomeRejected:
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "rejected",
			"reason": result.Reason,
		})
	case pipeline.OutcomeDuplicate:
		c.JSON(http.StatusOK, gin.H{
			"status":    "duplicate",
			"signal_id": result.SignalID,
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"status":    "success",
			"signal_id": result.SignalID,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (h *IngestHandler) webhookTest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "webhook endpoint reachable",
	})
}

// secretMatch compares in constant time so the check leaks no prefix length.
func secretMatch(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
