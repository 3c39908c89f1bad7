package services

import (
	"testing"
	"time"

	"whatsapp-hub/internal/db"
	"whatsapp-hub/internal/gateway"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/permissions"
	"whatsapp-hub/internal/ratelimit"

	"github.com/stretchr/testify/require"
)

// testEnv wires every service against an in-memory database.
type testEnv struct {
	lines     db.LineRepository
	contacts  db.ContactRepository
	threads   db.ThreadRepository
	messages  db.MessageRepository
	perms     db.PermissionRepository
	windows   db.WindowRepository
	broadcast db.BroadcastRepository
	settings  *db.AccessSettingsStore

	registry *gateway.Registry
	limiter  *ratelimit.Limiter
	resolver *permissions.Resolver

	conversations *ConversationService
	ingest        *IngestService
	broadcasts    *BroadcastService
	backups       *BackupService
	lineService   *LineService
	access        *AccessService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.NewDatabase(":memory:")
	require.NoError(t, err)
	// One pooled connection so every query sees the same in-memory DB.
	database.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { database.Close() })

	env := &testEnv{
		lines:     db.NewLineRepository(database.DB()),
		contacts:  db.NewContactRepository(database.DB()),
		threads:   db.NewThreadRepository(database.DB()),
		messages:  db.NewMessageRepository(database.DB()),
		perms:     db.NewPermissionRepository(database.DB()),
		windows:   db.NewWindowRepository(database.DB()),
		broadcast: db.NewBroadcastRepository(database.DB()),
		settings:  db.NewAccessSettingsStore(db.NewSettingsRepository(database.DB())),
	}

	env.registry = gateway.NewRegistry(2*time.Second, "")
	env.limiter = ratelimit.NewLimiter(env.windows)
	env.resolver = permissions.NewResolver(env.perms, env.settings)

	env.conversations = NewConversationService(
		env.threads, env.messages, env.contacts, env.lines,
		env.registry, env.limiter, env.resolver, 2*time.Second, t.TempDir())
	env.ingest = NewIngestService(env.lines, env.contacts, env.threads, env.messages, env.registry)
	env.broadcasts = NewBroadcastService(
		env.broadcast, env.threads, env.messages, env.lines,
		env.registry, env.limiter, env.resolver, nil, 2*time.Second)
	env.backups = NewBackupService(env.lines, env.contacts, env.threads, env.messages, env.resolver, "")
	env.lineService = NewLineService(env.lines, env.registry, env.resolver, env.ingest, env.limiter, "")
	env.access = NewAccessService(env.perms, env.settings, env.contacts, env.resolver)

	return env
}

func adminIdentity() models.Identity {
	return models.Identity{UserID: 1, Username: "admin", Admin: true}
}

func agentIdentity(userID int64) models.Identity {
	return models.Identity{UserID: userID, Username: "agent"}
}

// sandboxLine seeds an always-succeeding line.
func (env *testEnv) sandboxLine(t *testing.T, label string, hourlyCap int) *models.Line {
	t.Helper()

	line := models.NewLine(label, models.ProviderSandbox)
	line.HourlyCap = hourlyCap
	require.NoError(t, env.lines.Create(line))
	return line
}

// altLine seeds an alternate gateway line with the given instance slug.
func (env *testEnv) altLine(t *testing.T, label, slug string) *models.Line {
	t.Helper()

	line := models.NewLine(label, models.ProviderAlt)
	line.AltInstance = slug
	require.NoError(t, env.lines.Create(line))
	return line
}

// seedThread creates a contact and thread on the line.
func (env *testEnv) seedThread(t *testing.T, line *models.Line, phone string) *models.Thread {
	t.Helper()

	contact, err := env.contacts.UpsertByPhone(phone, "", "")
	require.NoError(t, err)

	channelID := phone
	if line.Provider == models.ProviderAlt {
		channelID = gateway.EncodeAltChannelID(line.AltInstance, phone)
	}

	thread, _, err := env.threads.UpsertByChannel(line.ID, contact.ID, channelID)
	require.NoError(t, err)
	return thread
}
