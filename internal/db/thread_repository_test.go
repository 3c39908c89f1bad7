package db

import (
	"sync"
	"testing"
	"time"

	"whatsapp-hub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadRepository_UpsertByChannel(t *testing.T) {
	db := setupTestDB(t)
	repo := NewThreadRepository(db)

	line := seedLine(t, db, "Suporte", models.ProviderAlt)
	contact := seedContact(t, db, "5511999990000")

	thread, created, err := repo.UpsertByChannel(line.ID, contact.ID, "alt:wpp1:5511999990000")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.QueueArrival, thread.Queue)
	assert.Equal(t, models.StatusOpen, thread.Status)

	again, created, err := repo.UpsertByChannel(line.ID, contact.ID, "alt:wpp1:5511999990000")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, thread.ID, again.ID)
}

func TestThreadRepository_UpsertByChannelConcurrent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewThreadRepository(db)

	line := seedLine(t, db, "Suporte", models.ProviderAlt)
	contact := seedContact(t, db, "5511999990000")

	var wg sync.WaitGroup
	ids := make([]int64, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			thread, _, err := repo.UpsertByChannel(line.ID, contact.ID, "alt:wpp1:5511999990000")
			if err == nil {
				ids[i] = thread.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != 0 {
			assert.Equal(t, ids[0], id, "all callers must resolve the same thread")
		}
	}
}

func TestThreadRepository_AssignCompareAndSet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewThreadRepository(db)

	line := seedLine(t, db, "Suporte", models.ProviderMeta)
	contact := seedContact(t, db, "5511999990000")
	thread := seedThread(t, db, line, contact, "t-1")

	// Take an unowned thread
	ok, err := repo.Assign(thread.ID, 10, 10, false)
	require.NoError(t, err)
	assert.True(t, ok)

	// Another agent cannot redirect it
	ok, err = repo.Assign(thread.ID, 20, 20, false)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(thread.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.AssignedUserID)

	// The owner can release it
	ok, err = repo.Assign(thread.ID, 0, 10, false)
	require.NoError(t, err)
	assert.True(t, ok)

	// Admin force bypasses the guard
	ok, err = repo.Assign(thread.ID, 10, 10, false)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.Assign(thread.ID, 20, 99, true)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestThreadRepository_SaveQueueState(t *testing.T) {
	db := setupTestDB(t)
	repo := NewThreadRepository(db)

	line := seedLine(t, db, "Suporte", models.ProviderMeta)
	contact := seedContact(t, db, "5511999990000")
	thread := seedThread(t, db, line, contact, "t-1")

	when := int64(1767225600)
	thread.Queue = models.QueueScheduled
	thread.Status = models.StatusWaiting
	thread.ScheduledFor = &when
	require.NoError(t, repo.SaveQueueState(thread))

	got, err := repo.GetByID(thread.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueScheduled, got.Queue)
	assert.Equal(t, models.StatusWaiting, got.Status)
	require.NotNil(t, got.ScheduledFor)
	assert.Equal(t, when, *got.ScheduledFor)
}

func TestThreadRepository_RecordInbound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewThreadRepository(db)

	line := seedLine(t, db, "Suporte", models.ProviderMeta)
	contact := seedContact(t, db, "5511999990000")
	thread := seedThread(t, db, line, contact, "t-1")

	require.NoError(t, repo.UpdateStatus(thread.ID, models.StatusWaiting))
	require.NoError(t, repo.RecordInbound(thread.ID, 1767225600, true))

	got, err := repo.GetByID(thread.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UnreadCount)
	assert.Equal(t, int64(1767225600), got.LastMessageAt)
	assert.Equal(t, models.StatusOpen, got.Status, "inbound traffic reopens a waiting thread")

	require.NoError(t, repo.ResetUnread(thread.ID))
	got, err = repo.GetByID(thread.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UnreadCount)
}

func TestThreadRepository_ListForBroadcast(t *testing.T) {
	db := setupTestDB(t)
	repo := NewThreadRepository(db)

	line := seedLine(t, db, "Suporte", models.ProviderMeta)

	var threads []*models.Thread
	for i, phone := range []string{"5511999990001", "5511999990002", "5511999990003"} {
		contact := seedContact(t, db, phone)
		thread := seedThread(t, db, line, contact, phone)
		require.NoError(t, repo.TouchOutbound(thread.ID, int64(1000+i)))
		threads = append(threads, thread)
	}

	// Make the middle thread the most recently updated
	base := time.Now().Unix()
	for i, offset := range []int64{-120, 0, -60} {
		_, err := db.Exec(`UPDATE threads SET updated_at = ? WHERE id = ?`, base+offset, threads[i].ID)
		require.NoError(t, err)
	}

	got, err := repo.ListForBroadcast([]models.Queue{models.QueueArrival}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, threads[1].ID, got[0].ID)

	all, err := repo.ListForBroadcast([]models.Queue{models.QueueArrival}, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{threads[1].ID, threads[2].ID, threads[0].ID},
		[]int64{all[0].ID, all[1].ID, all[2].ID})
}

func TestThreadRepository_QueueCounts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewThreadRepository(db)

	line := seedLine(t, db, "Suporte", models.ProviderMeta)

	for _, phone := range []string{"5511999990001", "5511999990002"} {
		contact := seedContact(t, db, phone)
		seedThread(t, db, line, contact, phone)
	}
	contact := seedContact(t, db, "5511999990003")
	thread := seedThread(t, db, line, contact, "5511999990003")
	thread.Queue = models.QueueCompleted
	require.NoError(t, repo.SaveQueueState(thread))

	counts, err := repo.QueueCounts()
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.QueueArrival])
	assert.Equal(t, 1, counts[models.QueueCompleted])
	assert.Equal(t, 0, counts[models.QueueScheduled])
}

func TestThreadRepository_GetByIDLoadsJoins(t *testing.T) {
	db := setupTestDB(t)
	repo := NewThreadRepository(db)

	line := seedLine(t, db, "Suporte", models.ProviderMeta)
	contact := seedContact(t, db, "5511999990000")
	contact.Name = "Maria"
	require.NoError(t, NewContactRepository(db).Update(contact))
	thread := seedThread(t, db, line, contact, "t-1")

	got, err := repo.GetByID(thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "Maria", got.ContactName)
	assert.Equal(t, "5511999990000", got.ContactPhone)
	assert.Equal(t, "Suporte", got.LineLabel)
	assert.Equal(t, "meta", got.LineProvider)
}
