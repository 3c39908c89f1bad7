package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-hub/internal/config"
	"whatsapp-hub/internal/db"
	"whatsapp-hub/internal/gateway"
	"whatsapp-hub/internal/handlers"
	"whatsapp-hub/internal/permissions"
	"whatsapp-hub/internal/queue"
	"whatsapp-hub/internal/ratelimit"
	"whatsapp-hub/internal/services"
	"whatsapp-hub/pkg/logger"
	"whatsapp-hub/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const version = "1.0.0"

// SetupServer initializes and returns a configured HTTP server
func SetupServer(cfg *config.Config) (*http.Server, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}

	if cfg.Server.Port <= 0 {
		return nil, errors.New("invalid server port")
	}

	// Initialize database
	database, err := db.NewDatabase(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize repositories
	lineRepo := db.NewLineRepository(database.DB())
	contactRepo := db.NewContactRepository(database.DB())
	threadRepo := db.NewThreadRepository(database.DB())
	messageRepo := db.NewMessageRepository(database.DB())
	permissionRepo := db.NewPermissionRepository(database.DB())
	windowRepo := db.NewWindowRepository(database.DB())
	broadcastRepo := db.NewBroadcastRepository(database.DB())
	settingsStore := db.NewAccessSettingsStore(db.NewSettingsRepository(database.DB()))

	// Core collaborators
	registry := gateway.NewRegistry(cfg.Gateway.SendTimeout, cfg.Security.CredentialKey)
	limiter := ratelimit.NewLimiter(windowRepo)
	resolver := permissions.NewResolver(permissionRepo, settingsStore)

	// Initialize services
	ingestService := services.NewIngestService(lineRepo, contactRepo, threadRepo, messageRepo, registry)
	if err := ingestService.RefreshTokens(); err != nil {
		return nil, fmt.Errorf("failed to load webhook tokens: %w", err)
	}

	conversationService := services.NewConversationService(
		threadRepo, messageRepo, contactRepo, lineRepo,
		registry, limiter, resolver, cfg.Gateway.SendTimeout, cfg.Gateway.MediaDir)

	var publisher services.JobPublisher
	if cfg.Broker.URL != "" {
		broker, err := queue.NewPublisher(cfg.Broker.URL, cfg.Broker.Exchange)
		if err != nil {
			// Broadcasts fall back to inline runs when the broker is down.
			logger.Warn("broker unavailable, broadcasts run inline", zap.Error(err))
		} else {
			publisher = broker
		}
	}

	broadcastService := services.NewBroadcastService(
		broadcastRepo, threadRepo, messageRepo, lineRepo,
		registry, limiter, resolver, publisher, cfg.Gateway.SendTimeout)
	backupService := services.NewBackupService(lineRepo, contactRepo, threadRepo, messageRepo, resolver, cfg.Backup.Dir)
	lineService := services.NewLineService(lineRepo, registry, resolver, ingestService, limiter, cfg.Security.CredentialKey)
	accessService := services.NewAccessService(permissionRepo, settingsStore, contactRepo, resolver)

	// Background broadcast consumer, wired to the same dispatcher.
	if cfg.Broker.URL != "" && publisher != nil {
		consumer, err := queue.NewConsumer(cfg.Broker.URL, cfg.Broker.Exchange, broadcastService, 0)
		if err != nil {
			logger.Warn("broadcast consumer unavailable", zap.Error(err))
		} else if err := consumer.Start("whatsapp-broadcasts"); err != nil {
			logger.Warn("broadcast consumer failed to start", zap.Error(err))
		}
	}

	// Initialize router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.AuditLogMiddleware())
	router.Use(middleware.RequestSizeLimitMiddleware(32 << 20))

	setupRoutes(router, cfg,
		handlers.NewThreadHandler(conversationService),
		handlers.NewWebhookHandler(ingestService),
		handlers.NewBroadcastHandler(broadcastService),
		handlers.NewLineHandler(lineService, ingestService),
		handlers.NewAccessHandler(accessService),
		handlers.NewBackupHandler(backupService),
	)

	// Create server with security timeouts
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

// setupRoutes configures all the HTTP routes
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	threadHandler *handlers.ThreadHandler,
	webhookHandler *handlers.WebhookHandler,
	broadcastHandler *handlers.BroadcastHandler,
	lineHandler *handlers.LineHandler,
	accessHandler *handlers.AccessHandler,
	backupHandler *handlers.BackupHandler,
) {
	// Basic health check endpoint (public)
	router.GET("/health", handleHealthCheck)

	// Provider webhook (public, token-verified)
	router.GET("/webhook", webhookHandler.Verify)
	router.POST("/webhook/:lineID", webhookHandler.Receive)

	// Protected routes group
	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(cfg))

	protected.GET("/threads", threadHandler.ListQueue)
	protected.POST("/threads", threadHandler.StartThread)
	protected.GET("/threads/:id/messages", threadHandler.Messages)
	protected.POST("/threads/:id/messages", threadHandler.SendMessage)
	protected.POST("/threads/:id/notes", threadHandler.AddNote)
	protected.PUT("/threads/:id/queue", threadHandler.UpdateQueue)
	protected.PUT("/threads/:id/assign", threadHandler.Assign)
	protected.PUT("/threads/:id/status", threadHandler.UpdateStatus)
	protected.POST("/threads/:id/reopen", threadHandler.Reopen)
	protected.POST("/threads/:id/read", threadHandler.MarkRead)

	protected.POST("/broadcasts", broadcastHandler.Dispatch)
	protected.GET("/broadcasts", broadcastHandler.Recent)

	protected.GET("/access/permissions", accessHandler.ListPermissions)
	protected.PUT("/access/permissions", accessHandler.UpdatePermissions)
	protected.GET("/access/settings", accessHandler.GetSettings)
	protected.PUT("/access/settings", accessHandler.UpdateSettings)
	protected.PUT("/contacts/:id/block", accessHandler.BlockContact)
	protected.GET("/contacts/blocked", accessHandler.BlockedContacts)

	// Admin-only surfaces
	admin := protected.Group("")
	admin.Use(middleware.RequireAdmin())
	admin.POST("/lines", lineHandler.Create)
	admin.GET("/lines", lineHandler.List)
	admin.GET("/lines/:id", lineHandler.Get)
	admin.PUT("/lines/:id", lineHandler.Update)
	admin.DELETE("/lines/:id", lineHandler.Delete)
	admin.POST("/lines/:id/simulate", lineHandler.SimulateInbound)
	admin.GET("/backup/export", backupHandler.Export)
	admin.POST("/backup/import", backupHandler.Import)
}

// handleHealthCheck handles the health check endpoint
func handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"time":    time.Now().UTC(),
		"version": version,
		"service": "whatsapp-hub",
	})
}

// StartServer starts the HTTP server and handles graceful shutdown
func StartServer(srv *http.Server) error {
	go func() {
		logger.Info("Starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}

// StartServerWithContext starts the HTTP server with a context for shutdown control
func StartServerWithContext(ctx context.Context, srv *http.Server) error {
	go func() {
		logger.Info("Starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}
