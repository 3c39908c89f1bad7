package services

import (
	"testing"

	"whatsapp-hub/internal/gateway"
	"whatsapp-hub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inboundPayload(from, body, providerID string) *WebhookPayload {
	msg := WebhookMessage{From: from, ID: providerID, Timestamp: "1756500000", Type: "text"}
	msg.Text.Body = body
	return &WebhookPayload{Entry: []WebhookEntry{{
		ID: "entry-1",
		Changes: []WebhookChange{{
			Field: "messages",
			Value: WebhookValue{Messages: []WebhookMessage{msg}},
		}},
	}}}
}

func receiptPayload(providerID, status string) *WebhookPayload {
	return &WebhookPayload{Entry: []WebhookEntry{{
		ID: "entry-1",
		Changes: []WebhookChange{{
			Field: "messages",
			Value: WebhookValue{Statuses: []WebhookStatus{{ID: providerID, Status: status}}},
		}},
	}}}
}

func TestVerifyChallenge(t *testing.T) {
	env := newTestEnv(t)

	line := models.NewLine("Meta", models.ProviderMeta)
	line.VerifyToken = "segredo-123"
	require.NoError(t, env.lines.Create(line))
	require.NoError(t, env.ingest.RefreshTokens())

	challenge, err := env.ingest.VerifyChallenge("subscribe", "segredo-123", "echo-me")
	require.NoError(t, err)
	assert.Equal(t, "echo-me", challenge)

	_, err = env.ingest.VerifyChallenge("subscribe", "errado", "echo-me")
	assert.True(t, IsDenied(err))

	_, err = env.ingest.VerifyChallenge("unsubscribe", "segredo-123", "echo-me")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestVerifyChallengeIgnoresInactiveLines(t *testing.T) {
	env := newTestEnv(t)

	line := models.NewLine("Meta", models.ProviderMeta)
	line.VerifyToken = "segredo-123"
	line.Active = false
	require.NoError(t, env.lines.Create(line))
	require.NoError(t, env.ingest.RefreshTokens())

	_, err := env.ingest.VerifyChallenge("subscribe", "segredo-123", "echo-me")
	assert.True(t, IsDenied(err))
}

func TestIngestAltLineBuildsSingleThread(t *testing.T) {
	env := newTestEnv(t)
	line := env.altLine(t, "Alt WPP", "wpp1")

	for i, id := range []string{"wamid.1", "wamid.2", "wamid.3"} {
		processed, err := env.ingest.Ingest(line.ID, inboundPayload("5511999990000", "msg", id))
		require.NoError(t, err)
		assert.Equal(t, 1, processed, "event %d", i)
	}

	thread, err := env.threads.GetByChannel(line.ID, "alt:wpp1:5511999990000")
	require.NoError(t, err)
	require.NotNil(t, thread)
	assert.Equal(t, 3, thread.UnreadCount)

	all, err := env.threads.ListAll()
	require.NoError(t, err)
	assert.Len(t, all, 1, "all three events fold into one thread")

	history, err := env.messages.ListByThread(thread.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestIngestReplayIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)

	processed, err := env.ingest.Ingest(line.ID, inboundPayload("5511999990000", "oi", "wamid.1"))
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	processed, err = env.ingest.Ingest(line.ID, inboundPayload("5511999990000", "oi", "wamid.1"))
	require.NoError(t, err)
	assert.Equal(t, 0, processed, "replayed batch folds to zero")

	thread, err := env.threads.GetByChannel(line.ID, "5511999990000")
	require.NoError(t, err)
	assert.Equal(t, 1, thread.UnreadCount, "replay does not bump the unread counter")
}

func TestIngestEmptyBatchRejected(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)

	_, err := env.ingest.Ingest(line.ID, &WebhookPayload{})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestIngestBlockedContactDropped(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)

	contact, err := env.contacts.UpsertByPhone("5511999990000", "", "")
	require.NoError(t, err)
	require.NoError(t, env.contacts.SetBlocked(contact.ID, true))

	processed, err := env.ingest.Ingest(line.ID, inboundPayload("5511999990000", "spam", "wamid.1"))
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	thread, err := env.threads.GetByChannel(line.ID, "5511999990000")
	require.NoError(t, err)
	assert.Nil(t, thread, "blocked senders never create threads")
}

func TestIngestReopensWaitingThread(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	require.NoError(t, env.threads.UpdateStatus(thread.ID, models.StatusWaiting))

	_, err := env.ingest.Ingest(line.ID, inboundPayload("5511999990000", "voltei", "wamid.9"))
	require.NoError(t, err)

	got, err := env.threads.GetByID(thread.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, got.Status)
}

func TestIngestDeliveryReceipts(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)
	thread := env.seedThread(t, line, "5511999990000")

	outbound := models.NewOutboundMessage(thread.ID, 1, "ola")
	require.NoError(t, env.messages.Create(outbound))
	require.NoError(t, env.messages.SetStatus(outbound.ID, models.MessageSent))
	require.NoError(t, env.messages.SetProviderMessageID(outbound.ID, "wamid.out1"))

	processed, err := env.ingest.Ingest(line.ID, receiptPayload("wamid.out1", "read"))
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	// A late delivered receipt must not downgrade the read status.
	processed, err = env.ingest.Ingest(line.ID, receiptPayload("wamid.out1", "delivered"))
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	history, err := env.messages.ListByThread(thread.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.MessageRead, history[0].Status)
}

func TestIngestUnknownReceiptIgnored(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)

	processed, err := env.ingest.Ingest(line.ID, receiptPayload("wamid.ghost", "delivered"))
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
}

func TestIngestGroupEventLandsInGroupQueue(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)

	folded, err := env.ingest.FoldEvent(line, gateway.InboundEvent{
		LineID:   line.ID,
		From:     "5511999990000",
		Body:     "bom dia grupo",
		GroupKey: "grupo-vendas@g.us",
	})
	require.NoError(t, err)
	assert.True(t, folded)

	thread, err := env.threads.GetByChannel(line.ID, "grupo-vendas@g.us")
	require.NoError(t, err)
	require.NotNil(t, thread)
	assert.Equal(t, models.QueueGroup, thread.Queue)
}

func TestSimulateInbound(t *testing.T) {
	env := newTestEnv(t)
	line := env.sandboxLine(t, "Sandbox", 0)

	thread, err := env.ingest.SimulateInbound(line.ID, "5511999990000", "teste", "Maria")
	require.NoError(t, err)
	require.NotNil(t, thread)
	assert.Equal(t, "5511999990000", thread.ChannelThreadID)
	assert.Equal(t, 1, thread.UnreadCount)

	contact, err := env.contacts.GetByPhone("5511999990000")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "Maria", contact.ProfileName)
}

func TestSimulateInboundRequiresSandbox(t *testing.T) {
	env := newTestEnv(t)
	line := env.altLine(t, "Alt WPP", "wpp1")

	_, err := env.ingest.SimulateInbound(line.ID, "5511999990000", "teste", "")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
}
