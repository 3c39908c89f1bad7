package handlers

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"whatsapp-hub/internal/services"

	"github.com/gin-gonic/gin"
)

// maxBackupBytes bounds an uploaded archive.
const maxBackupBytes = 256 << 20

// BackupHandler serves archive export and restore. Admin only.
type BackupHandler struct {
	backups *services.BackupService
}

// NewBackupHandler creates a new backup handler
func NewBackupHandler(backups *services.BackupService) *BackupHandler {
	return &BackupHandler{backups: backups}
}

// Export handles GET /api/backup/export?include_secrets=true
func (h *BackupHandler) Export(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}

	includeSecrets := c.Query("include_secrets") == "true"

	var buf bytes.Buffer
	if err := h.backups.Export(identity, includeSecrets, &buf); err != nil {
		respondError(c, err)
		return
	}

	filename := fmt.Sprintf("whatsapp-backup-%s.zip", time.Now().Format("2006-01-02"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

// Import handles POST /api/backup/import with the archive in the "file"
// multipart field.
func (h *BackupHandler) Import(c *gin.Context) {
	identity, ok := identityOrAbort(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A backup archive is required"})
		return
	}
	defer file.Close()

	if header.Size > maxBackupBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Archive too large"})
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxBackupBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return
	}

	stats, err := h.backups.Import(identity, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
