package services

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"whatsapp-hub/internal/db"
	"whatsapp-hub/internal/gateway"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/permissions"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateQueueScheduledRequiresDate(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	_, err := env.conversations.UpdateQueue(adminIdentity(), thread.ID, &QueueUpdateRequest{
		Queue: "scheduled",
	})
	var validation *ValidationError
	require.True(t, errors.As(err, &validation))

	got, err := env.threads.GetByID(thread.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueArrival, got.Queue, "failed move leaves the queue unchanged")
}

func TestUpdateQueueScheduledUnparseableDate(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	_, err := env.conversations.UpdateQueue(adminIdentity(), thread.ID, &QueueUpdateRequest{
		Queue:        "scheduled",
		ScheduledFor: "amanha de manha",
	})
	var validation *ValidationError
	require.True(t, errors.As(err, &validation))
}

func TestUpdateQueueScheduledSetsWaitingAndReleasesOwner(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	_, err := env.threads.Assign(thread.ID, 10, 10, false)
	require.NoError(t, err)

	result, err := env.conversations.UpdateQueue(adminIdentity(), thread.ID, &QueueUpdateRequest{
		Queue:        "scheduled",
		ScheduledFor: "2026-09-01T14:30",
	})
	require.NoError(t, err)
	assert.Equal(t, models.QueueScheduled, result.Thread.Queue)
	assert.Equal(t, models.StatusWaiting, result.Thread.Status)
	assert.Zero(t, result.Thread.AssignedUserID)
	require.NotNil(t, result.Thread.ScheduledFor)
	assert.Equal(t, 1, result.Summary[models.QueueScheduled])
}

func TestUpdateQueueAcceptsSpaceSeparatedDate(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	_, err := env.conversations.UpdateQueue(adminIdentity(), thread.ID, &QueueUpdateRequest{
		Queue:        "scheduled",
		ScheduledFor: "2026-09-01 14:30",
	})
	require.NoError(t, err)
}

func TestUpdateQueueReminderOnlyReturnsToArrival(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	_, err := env.conversations.UpdateQueue(adminIdentity(), thread.ID, &QueueUpdateRequest{Queue: "reminder"})
	require.NoError(t, err)

	_, err = env.conversations.UpdateQueue(adminIdentity(), thread.ID, &QueueUpdateRequest{Queue: "partner"})
	var validation *ValidationError
	require.True(t, errors.As(err, &validation))

	result, err := env.conversations.UpdateQueue(adminIdentity(), thread.ID, &QueueUpdateRequest{Queue: "arrival"})
	require.NoError(t, err)
	assert.Equal(t, models.QueueArrival, result.Thread.Queue)
}

func TestUpdateQueueCompletedReachableFromReminder(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	_, err := env.conversations.UpdateQueue(adminIdentity(), thread.ID, &QueueUpdateRequest{Queue: "reminder"})
	require.NoError(t, err)

	result, err := env.conversations.UpdateQueue(adminIdentity(), thread.ID, &QueueUpdateRequest{Queue: "completed"})
	require.NoError(t, err)
	assert.Equal(t, models.QueueCompleted, result.Thread.Queue)
	assert.Equal(t, models.StatusClosed, result.Thread.Status)
}

func TestUpdateQueueCompletedReachableFromScheduled(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	_, err := env.conversations.UpdateQueue(adminIdentity(), thread.ID, &QueueUpdateRequest{
		Queue:        "scheduled",
		ScheduledFor: "2026-09-01T10:00",
	})
	require.NoError(t, err)

	result, err := env.conversations.UpdateQueue(adminIdentity(), thread.ID, &QueueUpdateRequest{Queue: "completed"})
	require.NoError(t, err)
	assert.Equal(t, models.QueueCompleted, result.Thread.Queue)
	assert.Nil(t, result.Thread.ScheduledFor)
}

func TestUpdateQueueArrivalReopensWaiting(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	require.NoError(t, env.threads.UpdateStatus(thread.ID, models.StatusWaiting))

	result, err := env.conversations.UpdateQueue(adminIdentity(), thread.ID, &QueueUpdateRequest{Queue: "arrival"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, result.Thread.Status)
}

func TestUpdateQueuePanelScopeDenied(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	// Default agents have no partner panel
	_, err := env.conversations.UpdateQueue(agentIdentity(10), thread.ID, &QueueUpdateRequest{Queue: "partner"})
	assert.True(t, IsDenied(err))
}

func TestAssignThreadConflict(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	_, err := env.conversations.AssignThread(agentIdentity(10), thread.ID, 10)
	require.NoError(t, err)

	// Agent B cannot take A's thread
	_, err = env.conversations.AssignThread(agentIdentity(20), thread.ID, 20)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(10), conflict.OwnerID)

	got, err := env.threads.GetByID(thread.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.AssignedUserID)
}

func TestAssignThreadNonAdminCannotRedirect(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	_, err := env.conversations.AssignThread(agentIdentity(10), thread.ID, 20)
	var perm *PermissionError
	require.True(t, errors.As(err, &perm))
}

func TestAssignThreadAdminOverride(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	_, err := env.conversations.AssignThread(agentIdentity(10), thread.ID, 10)
	require.NoError(t, err)

	result, err := env.conversations.AssignThread(adminIdentity(), thread.ID, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(20), result.Thread.AssignedUserID)
}

func TestAssignThreadRelease(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	_, err := env.conversations.AssignThread(agentIdentity(10), thread.ID, 10)
	require.NoError(t, err)

	result, err := env.conversations.AssignThread(agentIdentity(10), thread.ID, 0)
	require.NoError(t, err)
	assert.Zero(t, result.Thread.AssignedUserID)
}

func TestReopenLandsInArrival(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	_, err := env.conversations.UpdateQueue(adminIdentity(), thread.ID, &QueueUpdateRequest{Queue: "completed"})
	require.NoError(t, err)

	result, err := env.conversations.Reopen(adminIdentity(), thread.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueArrival, result.Thread.Queue)
	assert.Equal(t, models.StatusOpen, result.Thread.Status)
}

func TestReopenRequiresCompleted(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	_, err := env.conversations.Reopen(adminIdentity(), thread.ID)
	var validation *ValidationError
	require.True(t, errors.As(err, &validation))
}

func TestSendMessageSandbox(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	message, err := env.conversations.SendMessage(context.Background(), adminIdentity(), thread.ID, &SendRequest{Text: "ola"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageSent, message.Status)
	assert.NotEmpty(t, message.ProviderMessageID)

	got, err := env.threads.GetByID(thread.ID)
	require.NoError(t, err)
	assert.Equal(t, message.CreatedAt, got.LastMessageAt)
}

func TestSendMessageHourlyCap(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "L1", 2)
	thread := env.seedThread(t, line, "5511999990000")

	for i := 0; i < 2; i++ {
		_, err := env.conversations.SendMessage(context.Background(), adminIdentity(), thread.ID, &SendRequest{Text: "oferta"})
		require.NoError(t, err)
	}

	_, err := env.conversations.SendMessage(context.Background(), adminIdentity(), thread.ID, &SendRequest{Text: "oferta"})
	assert.True(t, IsRateLimited(err), "the third send within the hour must hit the 2-send cap")
}

func TestSendMessageRequiresContent(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	_, err := env.conversations.SendMessage(context.Background(), adminIdentity(), thread.ID, &SendRequest{})
	var validation *ValidationError
	require.True(t, errors.As(err, &validation))
}

func TestSendMessageStoresMediaOnDisk(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	payload := []byte("conteudo da foto")
	message, err := env.conversations.SendMessage(context.Background(), adminIdentity(), thread.ID, &SendRequest{
		Media: &gateway.OutboundMedia{Filename: "foto.JPG", Mime: "image/jpeg", Data: payload},
	})
	require.NoError(t, err)
	require.NotNil(t, message.Media)
	require.NotEmpty(t, message.Media.Path)
	assert.True(t, strings.HasSuffix(message.Media.Path, ".jpg"))

	stored, err := os.ReadFile(message.Media.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	persisted, err := env.messages.GetByID(message.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted.Media)
	assert.Equal(t, message.Media.Path, persisted.Media.Path)
}

func TestSendMessageRecordsTemplateSelection(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	message, err := env.conversations.SendMessage(context.Background(), adminIdentity(), thread.ID, &SendRequest{
		Text:         "Sua renovação vence amanhã",
		TemplateKind: "renewal",
		TemplateKey:  "d1",
	})
	require.NoError(t, err)

	stored, err := env.messages.GetByID(message.ID)
	require.NoError(t, err)
	assert.Equal(t, "renewal", stored.TemplateKind)
	assert.Equal(t, "d1", stored.TemplateKey)
}

func TestSendMessageRejectsHalfTemplatePair(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	_, err := env.conversations.SendMessage(context.Background(), adminIdentity(), thread.ID, &SendRequest{
		Text:         "ola",
		TemplateKind: "renewal",
	})
	var validation *ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, "template", validation.Field)
}

func TestAddNoteBypassesLimiter(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "L1", 1)
	thread := env.seedThread(t, line, "5511999990000")

	_, err := env.conversations.SendMessage(context.Background(), adminIdentity(), thread.ID, &SendRequest{Text: "um"})
	require.NoError(t, err)

	note, err := env.conversations.AddNote(adminIdentity(), thread.ID, "cliente prefere contato a tarde")
	require.NoError(t, err)
	assert.Equal(t, models.DirectionNote, note.Direction)
}

func TestStartThreadRequiresCapability(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)

	_, _, err := env.conversations.StartThread(context.Background(), agentIdentity(10), line.ID, "5511999990000", "ola")
	var perm *PermissionError
	require.True(t, errors.As(err, &perm))
}

type countingPermStore struct {
	inner db.PermissionRepository
	calls int
}

func (c *countingPermStore) GetPermission(userID int64) (*models.Permission, error) {
	c.calls++
	return c.inner.GetPermission(userID)
}

func TestStartThreadResolvesPermissionOnce(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)

	granted := models.DefaultPermission(10, false)
	granted.CanStartThread = true
	require.NoError(t, env.perms.Upsert(granted))

	store := &countingPermStore{inner: env.perms}
	conversations := NewConversationService(
		env.threads, env.messages, env.contacts, env.lines,
		env.registry, env.limiter,
		permissions.NewResolver(store, env.settings), 2*time.Second, "")

	_, _, err := conversations.StartThread(context.Background(), agentIdentity(10), line.ID, "5511999990000", "ola")
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls, "opening a thread resolves the caller's permission a single time")
}

func TestStartThreadAltBuildsCompositeChannel(t *testing.T) {
	env := newTestEnv(t)
	line := env.altLine(t, "Alt WPP", "wpp1")

	// An alt send requires live gateway credentials, so only check the
	// identity the send would use by pre-creating the thread.
	thread := env.seedThread(t, line, "5511999990000")
	assert.Equal(t, "alt:wpp1:5511999990000", thread.ChannelThreadID)
}

func TestStartThreadSandbox(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)

	result, message, err := env.conversations.StartThread(context.Background(), adminIdentity(), line.ID, "+55 (11) 99999-0000", "ola")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, models.MessageSent, message.Status)
	assert.Equal(t, "5511999990000", result.Thread.ChannelThreadID)

	// Starting again reuses the same thread
	again, _, err := env.conversations.StartThread(context.Background(), adminIdentity(), line.ID, "5511999990000", "ola de novo")
	require.NoError(t, err)
	assert.Equal(t, result.Thread.ID, again.Thread.ID)
}

func TestListQueueViewScope(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)

	mine := env.seedThread(t, line, "5511999990001")
	foreign := env.seedThread(t, line, "5511999990002")
	unowned := env.seedThread(t, line, "5511999990003")

	_, err := env.threads.Assign(mine.ID, 10, 10, false)
	require.NoError(t, err)
	_, err = env.threads.Assign(foreign.ID, 20, 20, false)
	require.NoError(t, err)

	cards, err := env.conversations.ListQueue(agentIdentity(10), "arrival", "", 50, 0)
	require.NoError(t, err)
	require.Len(t, cards, 2, "self scope sees own and unowned threads only")

	ids := []int64{cards[0].ID, cards[1].ID}
	assert.Contains(t, ids, mine.ID)
	assert.Contains(t, ids, unowned.ID)
}

func TestListQueueChannelFilter(t *testing.T) {
	env := newTestEnv(t)
	altWpp := env.altLine(t, "Alt WPP", "wpp1")
	altLab := env.altLine(t, "Alt Lab", "lab2")

	env.seedThread(t, altWpp, "5511999990001")
	labThread := env.seedThread(t, altLab, "5511999990002")

	cards, err := env.conversations.ListQueue(adminIdentity(), "arrival", "alt_lab", 50, 0)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, labThread.ID, cards[0].ID)

	all, err := env.conversations.ListQueue(adminIdentity(), "arrival", "alt", 50, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListQueueCompletedGate(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.conversations.ListQueue(agentIdentity(10), "completed", "", 50, 0)
	assert.True(t, IsDenied(err))
}

func TestMarkRead(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	require.NoError(t, env.threads.RecordInbound(thread.ID, 1000, true))
	require.NoError(t, env.conversations.MarkRead(adminIdentity(), thread.ID))

	got, err := env.threads.GetByID(thread.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UnreadCount)
}
