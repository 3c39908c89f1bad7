package handlers

import (
	"net/http"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/services"
	"whatsapp-hub/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BroadcastHandler serves the campaign admin panel.
type BroadcastHandler struct {
	broadcasts *services.BroadcastService
}

// NewBroadcastHandler creates a new broadcast handler
func NewBroadcastHandler(broadcasts *services.BroadcastService) *BroadcastHandler {
	return &BroadcastHandler{broadcasts: broadcasts}
}

// Dispatch handles POST /api/broadcasts
func (h *BroadcastHandler) Dispatch(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}

	var req models.BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	result, err := h.broadcasts.Dispatch(c.Request.Context(), identity, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	logger.Info("broadcast dispatched",
		zap.Int64("broadcast_id", result.Broadcast.ID),
		zap.Int64("user_id", identity.UserID))
	c.JSON(http.StatusCreated, result)
}

// Recent handles GET /api/broadcasts
func (h *BroadcastHandler) Recent(c *gin.Context) {
	if _, ok := identityOrAbort(c); !ok {
		return
	}

	limit, _ := pagination(c)
	recent, err := h.broadcasts.Recent(limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"broadcasts": recent})
}
