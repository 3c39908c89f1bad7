package handlers

import (
	"io"
	"net/http"

	"whatsapp-hub/internal/gateway"
	"whatsapp-hub/internal/services"
	"whatsapp-hub/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxUploadBytes bounds an attached media file.
const maxUploadBytes = 16 << 20

// ThreadHandler serves the conversation panels: queue listings, thread
// transitions and message traffic.
type ThreadHandler struct {
	conversations *services.ConversationService
}

// NewThreadHandler creates a new thread handler
func NewThreadHandler(conversations *services.ConversationService) *ThreadHandler {
	return &ThreadHandler{conversations: conversations}
}

// ListQueue handles GET /api/threads?queue=...&channel=...
func (h *ThreadHandler) ListQueue(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}

	queue := c.DefaultQuery("queue", "arrival")
	channel := c.Query("channel")
	limit, offset := pagination(c)

	cards, err := h.conversations.ListQueue(identity, queue, channel, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	summary, err := h.conversations.QueueSummary()
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"threads": cards,
		"summary": summary,
		"limit":   limit,
		"offset":  offset,
	})
}

// StartThreadRequest opens a conversation with a number that may have no
// prior thread.
type StartThreadRequest struct {
	LineID  int64  `json:"line_id" binding:"required"`
	Phone   string `json:"phone" binding:"required"`
	Message string `json:"message" binding:"required"`
}

// StartThread handles POST /api/threads
func (h *ThreadHandler) StartThread(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}

	var req StartThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	result, message, err := h.conversations.StartThread(c.Request.Context(), identity, req.LineID, req.Phone, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}

	logger.Info("thread started",
		zap.Int64("thread_id", result.Thread.ID),
		zap.Int64("user_id", identity.UserID))
	c.JSON(http.StatusCreated, gin.H{"thread": result, "message": message})
}

// Messages handles GET /api/threads/:id/messages
func (h *ThreadHandler) Messages(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}
	threadID, ok := pathID(c, "id")
	if !ok {
		return
	}

	limit, offset := pagination(c)
	history, err := h.conversations.Messages(identity, threadID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": history, "limit": limit, "offset": offset})
}

// SendMessage handles POST /api/threads/:id/messages. The body is either
// JSON {"text": ...} or multipart form data carrying a file plus an
// optional caption.
func (h *ThreadHandler) SendMessage(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}
	threadID, ok := pathID(c, "id")
	if !ok {
		return
	}

	req, ok := h.parseSendRequest(c)
	if !ok {
		return
	}

	message, err := h.conversations.SendMessage(c.Request.Context(), identity, threadID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": message})
}

func (h *ThreadHandler) parseSendRequest(c *gin.Context) (*services.SendRequest, bool) {
	contentType := c.ContentType()
	if contentType == "multipart/form-data" {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "A file upload is required"})
			return nil, false
		}
		defer file.Close()

		if header.Size > maxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return nil, false
		}

		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
			return nil, false
		}

		return &services.SendRequest{
			Text: c.PostForm("text"),
			Media: &gateway.OutboundMedia{
				Filename: header.Filename,
				Mime:     header.Header.Get("Content-Type"),
				Data:     data,
				Caption:  c.PostForm("text"),
			},
		}, true
	}

	var body struct {
		Text         string `json:"text"`
		TemplateKind string `json:"template_kind,omitempty"`
		TemplateKey  string `json:"template_key,omitempty"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return nil, false
	}
	return &services.SendRequest{
		Text:         body.Text,
		TemplateKind: body.TemplateKind,
		TemplateKey:  body.TemplateKey,
	}, true
}

// AddNote handles POST /api/threads/:id/notes
func (h *ThreadHandler) AddNote(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}
	threadID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body struct {
		Body string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	note, err := h.conversations.AddNote(identity, threadID, body.Body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": note})
}

// UpdateQueue handles PUT /api/threads/:id/queue
func (h *ThreadHandler) UpdateQueue(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}
	threadID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req services.QueueUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	result, err := h.conversations.UpdateQueue(identity, threadID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Assign handles PUT /api/threads/:id/assign
func (h *ThreadHandler) Assign(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}
	threadID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body struct {
		UserID int64 `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	result, err := h.conversations.AssignThread(identity, threadID, body.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// UpdateStatus handles PUT /api/threads/:id/status
func (h *ThreadHandler) UpdateStatus(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}
	threadID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	result, err := h.conversations.UpdateThreadStatus(identity, threadID, body.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Reopen handles POST /api/threads/:id/reopen
func (h *ThreadHandler) Reopen(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}
	threadID, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := h.conversations.Reopen(identity, threadID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// MarkRead handles POST /api/threads/:id/read
func (h *ThreadHandler) MarkRead(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}
	threadID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.conversations.MarkRead(identity, threadID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
