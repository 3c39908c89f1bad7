package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"whatsapp-hub/internal/config"
	"whatsapp-hub/internal/db"
	"whatsapp-hub/internal/gateway"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/permissions"
	"whatsapp-hub/internal/ratelimit"
	"whatsapp-hub/internal/services"
	"whatsapp-hub/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// handlerEnv carries a fully wired router plus direct repository access
// for seeding and asserting.
type handlerEnv struct {
	cfg    *config.Config
	router *gin.Engine

	lines    db.LineRepository
	contacts db.ContactRepository
	threads  db.ThreadRepository
	messages db.MessageRepository
	perms    db.PermissionRepository

	ingest *services.IngestService
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.NewDatabase(":memory:")
	require.NoError(t, err)
	// One pooled connection so every query sees the same in-memory DB.
	database.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.JWT.Secret = "handler-test-secret"
	cfg.JWT.TokenExpiry = time.Hour

	lines := db.NewLineRepository(database.DB())
	contacts := db.NewContactRepository(database.DB())
	threads := db.NewThreadRepository(database.DB())
	messages := db.NewMessageRepository(database.DB())
	perms := db.NewPermissionRepository(database.DB())
	windows := db.NewWindowRepository(database.DB())
	broadcasts := db.NewBroadcastRepository(database.DB())
	settings := db.NewAccessSettingsStore(db.NewSettingsRepository(database.DB()))

	registry := gateway.NewRegistry(2*time.Second, "")
	limiter := ratelimit.NewLimiter(windows)
	resolver := permissions.NewResolver(perms, settings)

	conversationService := services.NewConversationService(
		threads, messages, contacts, lines, registry, limiter, resolver, 2*time.Second, t.TempDir())
	ingestService := services.NewIngestService(lines, contacts, threads, messages, registry)
	broadcastService := services.NewBroadcastService(
		broadcasts, threads, messages, lines, registry, limiter, resolver, nil, 2*time.Second)
	backupService := services.NewBackupService(lines, contacts, threads, messages, resolver, "")
	lineService := services.NewLineService(lines, registry, resolver, ingestService, limiter, "")
	accessService := services.NewAccessService(perms, settings, contacts, resolver)

	threadHandler := NewThreadHandler(conversationService)
	webhookHandler := NewWebhookHandler(ingestService)
	broadcastHandler := NewBroadcastHandler(broadcastService)
	lineHandler := NewLineHandler(lineService, ingestService)
	accessHandler := NewAccessHandler(accessService)
	backupHandler := NewBackupHandler(backupService)

	router := gin.New()
	router.GET("/webhook", webhookHandler.Verify)
	router.POST("/webhook/:lineID", webhookHandler.Receive)

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg))
	api.GET("/threads", threadHandler.ListQueue)
	api.POST("/threads", threadHandler.StartThread)
	api.GET("/threads/:id/messages", threadHandler.Messages)
	api.POST("/threads/:id/messages", threadHandler.SendMessage)
	api.POST("/threads/:id/notes", threadHandler.AddNote)
	api.PUT("/threads/:id/queue", threadHandler.UpdateQueue)
	api.PUT("/threads/:id/assign", threadHandler.Assign)
	api.PUT("/threads/:id/status", threadHandler.UpdateStatus)
	api.POST("/threads/:id/reopen", threadHandler.Reopen)
	api.POST("/threads/:id/read", threadHandler.MarkRead)
	api.POST("/broadcasts", broadcastHandler.Dispatch)
	api.GET("/broadcasts", broadcastHandler.Recent)
	api.POST("/lines", lineHandler.Create)
	api.GET("/lines", lineHandler.List)
	api.GET("/lines/:id", lineHandler.Get)
	api.PUT("/lines/:id", lineHandler.Update)
	api.DELETE("/lines/:id", lineHandler.Delete)
	api.POST("/lines/:id/simulate", lineHandler.SimulateInbound)
	api.GET("/access/permissions", accessHandler.ListPermissions)
	api.PUT("/access/permissions", accessHandler.UpdatePermissions)
	api.GET("/access/settings", accessHandler.GetSettings)
	api.PUT("/access/settings", accessHandler.UpdateSettings)
	api.PUT("/contacts/:id/block", accessHandler.BlockContact)
	api.GET("/contacts/blocked", accessHandler.BlockedContacts)
	api.GET("/backup/export", backupHandler.Export)
	api.POST("/backup/import", backupHandler.Import)

	return &handlerEnv{
		cfg:      cfg,
		router:   router,
		lines:    lines,
		contacts: contacts,
		threads:  threads,
		messages: messages,
		perms:    perms,
		ingest:   ingestService,
	}
}

func (env *handlerEnv) token(t *testing.T, identity models.Identity) string {
	t.Helper()
	token, err := middleware.GenerateToken(identity, env.cfg)
	require.NoError(t, err)
	return token
}

func (env *handlerEnv) adminToken(t *testing.T) string {
	return env.token(t, models.Identity{UserID: 1, Username: "admin", Admin: true})
}

func (env *handlerEnv) agentToken(t *testing.T, userID int64) string {
	return env.token(t, models.Identity{UserID: userID, Username: "agent"})
}

// request performs one JSON request against the router.
func (env *handlerEnv) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func threadPath(threadID int64, suffix string) string {
	return "/api/threads/" + strconv.FormatInt(threadID, 10) + "/" + suffix
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (env *handlerEnv) seedSandboxLine(t *testing.T, label string) *models.Line {
	t.Helper()
	line := models.NewLine(label, models.ProviderSandbox)
	require.NoError(t, env.lines.Create(line))
	return line
}

func (env *handlerEnv) seedThread(t *testing.T, line *models.Line, phone string) *models.Thread {
	t.Helper()
	contact, err := env.contacts.UpsertByPhone(phone, "", "")
	require.NoError(t, err)
	thread, _, err := env.threads.UpsertByChannel(line.ID, contact.ID, phone)
	require.NoError(t, err)
	return thread
}
