package handlers

import (
	"net/http"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/services"
	"whatsapp-hub/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LineHandler manages the configured gateway lines. Admin only.
type LineHandler struct {
	lines  *services.LineService
	ingest *services.IngestService
}

// NewLineHandler creates a new line handler
func NewLineHandler(lines *services.LineService, ingest *services.IngestService) *LineHandler {
	return &LineHandler{lines: lines, ingest: ingest}
}

// Create handles POST /api/lines
func (h *LineHandler) Create(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}

	var req models.CreateLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	line, err := h.lines.CreateLine(identity, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	logger.Info("line created", zap.Int64("line_id", line.ID), zap.String("provider", string(line.Provider)))
	c.JSON(http.StatusCreated, line)
}

// List handles GET /api/lines
func (h *LineHandler) List(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}

	lines, err := h.lines.ListLines(identity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

// Get handles GET /api/lines/:id
func (h *LineHandler) Get(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	line, err := h.lines.GetLine(identity, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

// Update handles PUT /api/lines/:id
func (h *LineHandler) Update(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req models.UpdateLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	line, err := h.lines.UpdateLine(identity, id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

// Delete handles DELETE /api/lines/:id
func (h *LineHandler) Delete(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.lines.DeleteLine(identity, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// SimulateInbound handles POST /api/lines/:id/simulate, injecting a test
// inbound message through a sandbox line.
func (h *LineHandler) SimulateInbound(c *gin.Context) {
	if _, ok := identityOrAbort(c); !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body struct {
		From        string `json:"from" binding:"required"`
		Body        string `json:"body" binding:"required"`
		ProfileName string `json:"profile_name,omitempty"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	thread, err := h.ingest.SimulateInbound(id, body.From, body.Body, body.ProfileName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"thread": thread})
}
