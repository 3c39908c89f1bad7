package services

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"whatsapp-hub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportArchive(t *testing.T, env *testEnv, includeSecrets bool) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, env.backups.Export(adminIdentity(), includeSecrets, &buf))
	return buf.Bytes()
}

func TestExportKeepsServerSideCopy(t *testing.T) {
	env := newTestEnv(t)
	seedBackupFixture(t, env)

	dir := t.TempDir()
	backups := NewBackupService(env.lines, env.contacts, env.threads, env.messages, env.resolver, dir)

	var buf bytes.Buffer
	require.NoError(t, backups.Export(adminIdentity(), false, &buf))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "whatsapp-backup-"))
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".zip"))

	copied, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), copied)
}

func readManifestJSON(t *testing.T, archive []byte) map[string]json.RawMessage {
	t.Helper()

	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	require.Len(t, reader.File, 1)
	assert.Equal(t, "whatsapp-backup.json", reader.File[0].Name)

	rc, err := reader.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	require.NoError(t, err)

	var manifest map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &manifest))
	return manifest
}

func seedBackupFixture(t *testing.T, env *testEnv) {
	t.Helper()

	line := env.sandboxLine(t, "Sandbox", 0)
	line.VerifyToken = "segredo"
	line.Credentials = "token-secreto"
	require.NoError(t, env.lines.Update(line))

	thread := env.seedThread(t, line, "5511999990000")

	inbound := models.NewInboundMessage(thread.ID, thread.ContactID, "oi")
	inbound.ProviderMessageID = "wamid.in1"
	require.NoError(t, env.messages.Create(inbound))

	note := models.NewNote(thread.ID, 1, "anotacao interna")
	require.NoError(t, env.messages.Create(note))
}

func TestBackupExportAdminOnly(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	err := env.backups.Export(agentIdentity(10), false, &buf)
	var perm *PermissionError
	require.ErrorAs(t, err, &perm)
}

func TestBackupExportRedactsSecrets(t *testing.T) {
	env := newTestEnv(t)
	seedBackupFixture(t, env)

	manifest := readManifestJSON(t, exportArchive(t, env, false))
	assert.NotContains(t, string(manifest["lines"]), "token-secreto")

	withSecrets := readManifestJSON(t, exportArchive(t, env, true))
	assert.Contains(t, string(withSecrets["lines"]), "token-secreto")
}

func TestBackupManifestShape(t *testing.T) {
	env := newTestEnv(t)
	seedBackupFixture(t, env)

	manifest := readManifestJSON(t, exportArchive(t, env, false))

	var version int
	require.NoError(t, json.Unmarshal(manifest["schema_version"], &version))
	assert.Equal(t, 1, version)

	var id string
	require.NoError(t, json.Unmarshal(manifest["id"], &id))
	assert.NotEmpty(t, id)
}

func TestBackupRoundTrip(t *testing.T) {
	source := newTestEnv(t)
	seedBackupFixture(t, source)
	archive := exportArchive(t, source, true)

	target := newTestEnv(t)
	stats, err := target.backups.Import(adminIdentity(), bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.LinesCreated)
	assert.Equal(t, 1, stats.ContactsCreated)
	assert.Equal(t, 1, stats.ThreadsCreated)
	assert.Equal(t, 2, stats.MessagesCreated)

	threads, err := target.threads.ListAll()
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "5511999990000", threads[0].ChannelThreadID)

	history, err := target.messages.ListByThread(threads[0].ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.DirectionInbound, history[0].Direction)
	assert.Equal(t, models.DirectionNote, history[1].Direction)
}

func TestBackupReimportSkipsEverything(t *testing.T) {
	env := newTestEnv(t)
	seedBackupFixture(t, env)
	archive := exportArchive(t, env, true)

	stats, err := env.backups.Import(adminIdentity(), bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	assert.Zero(t, stats.LinesCreated)
	assert.Zero(t, stats.ContactsCreated)
	assert.Zero(t, stats.ThreadsCreated)
	assert.Zero(t, stats.MessagesCreated)
	assert.Equal(t, 1, stats.LinesSkipped)
	assert.Equal(t, 1, stats.ContactsSkipped)
	assert.Equal(t, 1, stats.ThreadsSkipped)
	assert.Equal(t, 2, stats.MessagesSkipped)
}

func TestBackupImportRejectsGarbage(t *testing.T) {
	env := newTestEnv(t)

	payload := []byte("isto nao e um zip")
	_, err := env.backups.Import(adminIdentity(), bytes.NewReader(payload), int64(len(payload)))
	require.Error(t, err)
}

func TestBackupImportAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	seedBackupFixture(t, env)
	archive := exportArchive(t, env, false)

	_, err := env.backups.Import(agentIdentity(10), bytes.NewReader(archive), int64(len(archive)))
	var perm *PermissionError
	require.ErrorAs(t, err, &perm)
}
