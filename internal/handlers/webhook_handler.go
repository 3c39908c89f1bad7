package handlers

import (
	"net/http"

	"whatsapp-hub/internal/services"
	"whatsapp-hub/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WebhookHandler terminates the provider webhook: the subscription
// handshake and per-line event batches. These routes carry no JWT; the
// verify token is the only credential.
type WebhookHandler struct {
	ingest *services.IngestService
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(ingest *services.IngestService) *WebhookHandler {
	return &WebhookHandler{ingest: ingest}
}

// Verify handles GET /webhook
func (h *WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub_mode")
	token := c.Query("hub_verify_token")
	challenge := c.Query("hub_challenge")

	echo, err := h.ingest.VerifyChallenge(mode, token, challenge)
	if err != nil {
		logger.Warn("webhook verification rejected", zap.String("mode", mode))
		c.String(http.StatusForbidden, "verification failed")
		return
	}

	c.String(http.StatusOK, echo)
}

// Receive handles POST /webhook/:lineID
func (h *WebhookHandler) Receive(c *gin.Context) {
	lineID, ok := pathID(c, "lineID")
	if !ok {
		return
	}

	var payload services.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook payload"})
		return
	}

	processed, err := h.ingest.Ingest(lineID, &payload)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"processed": processed})
}
