package handlers

import (
	"net/http"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/services"

	"github.com/gin-gonic/gin"
)

// AccessHandler manages agent permissions, the access settings and the
// blocked numbers list.
type AccessHandler struct {
	access *services.AccessService
}

// NewAccessHandler creates a new access handler
func NewAccessHandler(access *services.AccessService) *AccessHandler {
	return &AccessHandler{access: access}
}

// ListPermissions handles GET /api/access/permissions
func (h *AccessHandler) ListPermissions(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}

	perms, err := h.access.ListPermissions(identity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": perms})
}

// UpdatePermissions handles PUT /api/access/permissions
func (h *AccessHandler) UpdatePermissions(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}

	var body struct {
		Entries []models.UpdatePermissionEntry `json:"entries" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	if err := h.access.UpdatePermissions(identity, body.Entries); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetSettings handles GET /api/access/settings
func (h *AccessHandler) GetSettings(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}

	settings, err := h.access.GetAccessSettings(identity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateSettings handles PUT /api/access/settings
func (h *AccessHandler) UpdateSettings(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}

	var settings models.AccessSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	if err := h.access.UpdateAccessSettings(identity, &settings); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// BlockContact handles PUT /api/contacts/:id/block
func (h *AccessHandler) BlockContact(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}
	contactID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body struct {
		Blocked bool `json:"blocked"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	if err := h.access.SetContactBlocked(identity, contactID, body.Blocked); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// BlockedContacts handles GET /api/contacts/blocked
func (h *AccessHandler) BlockedContacts(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}

	contacts, err := h.access.ListBlockedContacts(identity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts})
}
