package db

import (
	"testing"

	"whatsapp-hub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMessageTest(t *testing.T) (MessageRepository, *models.Thread) {
	t.Helper()
	db := setupTestDB(t)
	line := seedLine(t, db, "Suporte", models.ProviderMeta)
	contact := seedContact(t, db, "5511999990000")
	thread := seedThread(t, db, line, contact, "t-1")
	return NewMessageRepository(db), thread
}

func TestMessageRepository_CreateIdempotent(t *testing.T) {
	repo, thread := setupMessageTest(t)

	contactID := int64(1)
	first := &models.Message{
		ThreadID:          thread.ID,
		Direction:         models.DirectionInbound,
		ContactID:         &contactID,
		Body:              "oi",
		Status:            models.MessageSent,
		ProviderMessageID: "wamid.1",
	}
	require.NoError(t, repo.Create(first))
	require.NotZero(t, first.ID)

	replay := &models.Message{
		ThreadID:          thread.ID,
		Direction:         models.DirectionInbound,
		ContactID:         &contactID,
		Body:              "oi",
		Status:            models.MessageSent,
		ProviderMessageID: "wamid.1",
	}
	err := repo.Create(replay)
	assert.ErrorIs(t, err, ErrDuplicateMessage)

	messages, err := repo.ListByThread(thread.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestMessageRepository_CreateWithoutProviderID(t *testing.T) {
	repo, thread := setupMessageTest(t)

	userID := int64(7)
	for i := 0; i < 2; i++ {
		note := &models.Message{
			ThreadID:  thread.ID,
			Direction: models.DirectionNote,
			UserID:    &userID,
			Body:      "nota interna",
			Status:    models.MessageSent,
		}
		require.NoError(t, repo.Create(note), "empty provider ids never collide")
	}

	messages, err := repo.ListByThread(thread.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestMessageRepository_CreateRejectsDualAuthor(t *testing.T) {
	repo, thread := setupMessageTest(t)

	contactID, userID := int64(1), int64(2)
	err := repo.Create(&models.Message{
		ThreadID:  thread.ID,
		Direction: models.DirectionInbound,
		ContactID: &contactID,
		UserID:    &userID,
		Body:      "x",
		Status:    models.MessageSent,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not both")
}

func TestMessageRepository_ApplyReceipt(t *testing.T) {
	repo, thread := setupMessageTest(t)

	userID := int64(7)
	msg := &models.Message{
		ThreadID:          thread.ID,
		Direction:         models.DirectionOutbound,
		UserID:            &userID,
		Body:              "ola",
		Status:            models.MessageSent,
		ProviderMessageID: "wamid.out.1",
	}
	require.NoError(t, repo.Create(msg))

	changed, err := repo.ApplyReceipt("wamid.out.1", models.MessageDelivered)
	require.NoError(t, err)
	assert.True(t, changed)

	// A late 'sent' receipt never downgrades
	changed, err = repo.ApplyReceipt("wamid.out.1", models.MessageSent)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = repo.ApplyReceipt("wamid.out.1", models.MessageRead)
	require.NoError(t, err)
	assert.True(t, changed)

	// Read is terminal
	changed, err = repo.ApplyReceipt("wamid.out.1", models.MessageFailed)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := repo.GetByProviderID("wamid.out.1")
	require.NoError(t, err)
	assert.Equal(t, models.MessageRead, got.Status)
}

func TestMessageRepository_ApplyReceiptUnknownID(t *testing.T) {
	repo, _ := setupMessageTest(t)

	changed, err := repo.ApplyReceipt("wamid.missing", models.MessageDelivered)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMessageRepository_MediaRoundTrip(t *testing.T) {
	repo, thread := setupMessageTest(t)

	userID := int64(7)
	msg := &models.Message{
		ThreadID:  thread.ID,
		Direction: models.DirectionOutbound,
		UserID:    &userID,
		Body:      "segue anexo",
		Status:    models.MessagePending,
		Media: &models.Media{
			Path:     "media/2026/doc.pdf",
			Mime:     "application/pdf",
			Filename: "contrato.pdf",
		},
	}
	require.NoError(t, repo.Create(msg))

	got, err := repo.GetByID(msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Media)
	assert.Equal(t, "media/2026/doc.pdf", got.Media.Path)
	assert.Equal(t, "contrato.pdf", got.Media.Filename)
}

func TestMessageRepository_LastPreview(t *testing.T) {
	repo, thread := setupMessageTest(t)

	preview, err := repo.LastPreview(thread.ID)
	require.NoError(t, err)
	assert.Empty(t, preview)

	contactID := int64(1)
	for i, body := range []string{"primeira", "segunda"} {
		msg := &models.Message{
			ThreadID:  thread.ID,
			Direction: models.DirectionInbound,
			ContactID: &contactID,
			Body:      body,
			Status:    models.MessageSent,
			CreatedAt: int64(1000 + i),
		}
		require.NoError(t, repo.Create(msg))
	}

	preview, err = repo.LastPreview(thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "segunda", preview)
}

func TestMessageRepository_ExistsAt(t *testing.T) {
	repo, thread := setupMessageTest(t)

	contactID := int64(1)
	msg := &models.Message{
		ThreadID:  thread.ID,
		Direction: models.DirectionInbound,
		ContactID: &contactID,
		Body:      "oi",
		Status:    models.MessageSent,
		CreatedAt: 1767225600,
	}
	require.NoError(t, repo.Create(msg))

	exists, err := repo.ExistsAt(thread.ID, 1767225600, "oi")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsAt(thread.ID, 1767225601, "oi")
	require.NoError(t, err)
	assert.False(t, exists)
}
