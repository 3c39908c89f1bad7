package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"whatsapp-hub/internal/db"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/permissions"
	"whatsapp-hub/internal/ratelimit"
	"whatsapp-hub/internal/services"
	"whatsapp-hub/pkg/logger"
	"whatsapp-hub/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// identityOrAbort pulls the authenticated identity, answering 401 when
// the middleware did not set one.
func identityOrAbort(c *gin.Context) (models.Identity, bool) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
	}
	return identity, ok
}

// pathID parses the named int64 path parameter.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

// pagination reads limit/offset query params with sane bounds.
func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// respondError translates the service error taxonomy to HTTP statuses.
func respondError(c *gin.Context, err error) {
	var validation *services.ValidationError
	var permission *services.PermissionError
	var denied *permissions.DeniedError
	var conflict *services.ConflictError
	var gatewayErr *services.GatewayError
	var limitErr *ratelimit.LimitError

	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, db.ErrDuplicateMessage):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": validation.Error(), "field": validation.Field})
	case errors.As(err, &limitErr):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": limitErr.Error(),
			"scope": limitErr.Scope,
			"cap":   limitErr.Cap,
		})
	case errors.As(err, &permission):
		c.JSON(http.StatusForbidden, gin.H{"error": permission.Error()})
	case errors.As(err, &denied):
		c.JSON(http.StatusForbidden, gin.H{"error": denied.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error(), "owner_id": conflict.OwnerID})
	case errors.As(err, &gatewayErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": gatewayErr.Error()})
	default:
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
