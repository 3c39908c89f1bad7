package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"whatsapp-hub/internal/models"
)

// ThreadRepository defines the interface for thread data access
type ThreadRepository interface {
	Create(thread *models.Thread) error
	GetByID(id int64) (*models.Thread, error)
	GetByChannel(lineID int64, channelThreadID string) (*models.Thread, error)
	UpsertByChannel(lineID, contactID int64, channelThreadID string) (*models.Thread, bool, error)
	SaveQueueState(thread *models.Thread) error
	Assign(threadID, newOwner, actorID int64, force bool) (bool, error)
	UpdateStatus(threadID int64, status models.ThreadStatus) error
	RecordInbound(threadID int64, at int64, bumpUnread bool) error
	TouchOutbound(threadID int64, at int64) error
	ResetUnread(threadID int64) error
	ListByQueue(queue models.Queue, limit, offset int) ([]*models.Thread, error)
	ListForBroadcast(queues []models.Queue, limit int) ([]*models.Thread, error)
	ListAll() ([]*models.Thread, error)
	QueueCounts() (map[models.Queue]int, error)
}

type threadRepository struct {
	db *sql.DB
}

// NewThreadRepository creates a new ThreadRepository
func NewThreadRepository(db *sql.DB) ThreadRepository {
	return &threadRepository{db: db}
}

const threadColumns = `t.id, t.line_id, t.contact_id, t.channel_thread_id, t.queue, t.status,
	t.assigned_user_id, t.unread_count, t.last_message_at, t.created_at, t.updated_at,
	t.scheduled_for, t.partner_id, t.responsible_user_id, t.intake_summary,
	t.campaign_kind, t.campaign_token,
	c.name, c.phone, l.label, l.provider`

const threadJoin = ` FROM threads t
	JOIN contacts c ON c.id = t.contact_id
	JOIN lines l ON l.id = t.line_id`

func scanThread(row interface{ Scan(...any) error }) (*models.Thread, error) {
	thread := &models.Thread{}
	err := row.Scan(
		&thread.ID,
		&thread.LineID,
		&thread.ContactID,
		&thread.ChannelThreadID,
		&thread.Queue,
		&thread.Status,
		&thread.AssignedUserID,
		&thread.UnreadCount,
		&thread.LastMessageAt,
		&thread.CreatedAt,
		&thread.UpdatedAt,
		&thread.ScheduledFor,
		&thread.PartnerID,
		&thread.ResponsibleUserID,
		&thread.IntakeSummary,
		&thread.CampaignKind,
		&thread.CampaignToken,
		&thread.ContactName,
		&thread.ContactPhone,
		&thread.LineLabel,
		&thread.LineProvider,
	)
	if err != nil {
		return nil, err
	}
	return thread, nil
}

func (r *threadRepository) Create(thread *models.Thread) error {
	if thread == nil {
		return fmt.Errorf("thread cannot be nil")
	}
	if thread.LineID <= 0 || thread.ContactID <= 0 {
		return fmt.Errorf("thread requires a line and a contact")
	}
	if thread.ChannelThreadID == "" {
		return fmt.Errorf("thread channel id cannot be empty")
	}

	now := time.Now().Unix()
	if thread.CreatedAt == 0 {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now

	query := `
		INSERT INTO threads (line_id, contact_id, channel_thread_id, queue, status, assigned_user_id,
			unread_count, last_message_at, created_at, updated_at, scheduled_for, partner_id,
			responsible_user_id, intake_summary, campaign_kind, campaign_token)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Exec(query,
		thread.LineID,
		thread.ContactID,
		thread.ChannelThreadID,
		thread.Queue,
		thread.Status,
		thread.AssignedUserID,
		thread.UnreadCount,
		thread.LastMessageAt,
		thread.CreatedAt,
		thread.UpdatedAt,
		thread.ScheduledFor,
		thread.PartnerID,
		thread.ResponsibleUserID,
		thread.IntakeSummary,
		thread.CampaignKind,
		thread.CampaignToken,
	)
	if err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}

	thread.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get thread id: %w", err)
	}
	return nil
}

func (r *threadRepository) GetByID(id int64) (*models.Thread, error) {
	if id <= 0 {
		return nil, fmt.Errorf("thread ID must be positive")
	}

	query := `SELECT ` + threadColumns + threadJoin + ` WHERE t.id = ?`
	thread, err := scanThread(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread by ID: %w", err)
	}
	return thread, nil
}

func (r *threadRepository) GetByChannel(lineID int64, channelThreadID string) (*models.Thread, error) {
	if lineID <= 0 || channelThreadID == "" {
		return nil, fmt.Errorf("line ID and channel id are required")
	}

	query := `SELECT ` + threadColumns + threadJoin + ` WHERE t.line_id = ? AND t.channel_thread_id = ?`
	thread, err := scanThread(r.db.QueryRow(query, lineID, channelThreadID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread by channel: %w", err)
	}
	return thread, nil
}

// UpsertByChannel resolves or creates the thread for an inbound event in
// one statement, safe under concurrent webhook delivery. The second
// return value reports whether a new thread was created.
func (r *threadRepository) UpsertByChannel(lineID, contactID int64, channelThreadID string) (*models.Thread, bool, error) {
	if lineID <= 0 || contactID <= 0 {
		return nil, false, fmt.Errorf("line ID and contact ID are required")
	}
	if channelThreadID == "" {
		return nil, false, fmt.Errorf("channel id cannot be empty")
	}

	now := time.Now().Unix()
	query := `
		INSERT INTO threads (line_id, contact_id, channel_thread_id, queue, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(line_id, channel_thread_id) DO NOTHING
	`
	result, err := r.db.Exec(query, lineID, contactID, channelThreadID, models.QueueArrival, models.StatusOpen, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert thread: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check upsert result: %w", err)
	}

	thread, err := r.GetByChannel(lineID, channelThreadID)
	if err != nil {
		return nil, false, err
	}
	if thread == nil {
		return nil, false, fmt.Errorf("thread disappeared after upsert: line %d channel %s", lineID, channelThreadID)
	}
	return thread, affected > 0, nil
}

// SaveQueueState persists a queue move in one statement so a failed move
// leaves the previous state intact.
func (r *threadRepository) SaveQueueState(thread *models.Thread) error {
	if thread == nil {
		return fmt.Errorf("thread cannot be nil")
	}
	if thread.ID <= 0 {
		return fmt.Errorf("thread ID must be positive")
	}

	thread.UpdatedAt = time.Now().Unix()

	query := `
		UPDATE threads
		SET queue = ?, status = ?, assigned_user_id = ?, scheduled_for = ?, partner_id = ?,
			responsible_user_id = ?, intake_summary = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query,
		thread.Queue,
		thread.Status,
		thread.AssignedUserID,
		thread.ScheduledFor,
		thread.PartnerID,
		thread.ResponsibleUserID,
		thread.IntakeSummary,
		thread.UpdatedAt,
		thread.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save thread queue state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("thread not found: %d", thread.ID)
	}
	return nil
}

// Assign applies ownership as a compare-and-set: the update only lands
// when the thread is unowned or already owned by the actor. Admin
// callers pass force to bypass the guard. Returns false when another
// agent holds the thread.
func (r *threadRepository) Assign(threadID, newOwner, actorID int64, force bool) (bool, error) {
	if threadID <= 0 {
		return false, fmt.Errorf("thread ID must be positive")
	}

	now := time.Now().Unix()

	var result sql.Result
	var err error
	if force {
		result, err = r.db.Exec(
			`UPDATE threads SET assigned_user_id = ?, updated_at = ? WHERE id = ?`,
			newOwner, now, threadID,
		)
	} else {
		result, err = r.db.Exec(
			`UPDATE threads SET assigned_user_id = ?, updated_at = ?
			 WHERE id = ? AND (assigned_user_id = 0 OR assigned_user_id = ?)`,
			newOwner, now, threadID, actorID,
		)
	}
	if err != nil {
		return false, fmt.Errorf("failed to assign thread: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check assign result: %w", err)
	}
	return affected > 0, nil
}

func (r *threadRepository) UpdateStatus(threadID int64, status models.ThreadStatus) error {
	if threadID <= 0 {
		return fmt.Errorf("thread ID must be positive")
	}

	result, err := r.db.Exec(
		`UPDATE threads SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().Unix(), threadID,
	)
	if err != nil {
		return fmt.Errorf("failed to update thread status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("thread not found: %d", threadID)
	}
	return nil
}

// RecordInbound bumps the activity timestamps for one inbound message.
// Inbound traffic on a waiting thread reopens it.
func (r *threadRepository) RecordInbound(threadID int64, at int64, bumpUnread bool) error {
	if threadID <= 0 {
		return fmt.Errorf("thread ID must be positive")
	}

	bump := 0
	if bumpUnread {
		bump = 1
	}

	query := `
		UPDATE threads
		SET unread_count = unread_count + ?,
			last_message_at = ?,
			status = CASE WHEN status = 'waiting' THEN 'open' ELSE status END,
			updated_at = ?
		WHERE id = ?
	`
	_, err := r.db.Exec(query, bump, at, time.Now().Unix(), threadID)
	if err != nil {
		return fmt.Errorf("failed to record inbound activity: %w", err)
	}
	return nil
}

func (r *threadRepository) TouchOutbound(threadID int64, at int64) error {
	if threadID <= 0 {
		return fmt.Errorf("thread ID must be positive")
	}

	_, err := r.db.Exec(
		`UPDATE threads SET last_message_at = ?, updated_at = ? WHERE id = ?`,
		at, time.Now().Unix(), threadID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch thread: %w", err)
	}
	return nil
}

func (r *threadRepository) ResetUnread(threadID int64) error {
	if threadID <= 0 {
		return fmt.Errorf("thread ID must be positive")
	}

	_, err := r.db.Exec(
		`UPDATE threads SET unread_count = 0, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), threadID,
	)
	if err != nil {
		return fmt.Errorf("failed to reset unread count: %w", err)
	}
	return nil
}

func (r *threadRepository) ListByQueue(queue models.Queue, limit, offset int) ([]*models.Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + threadColumns + threadJoin + `
		WHERE t.queue = ?
		ORDER BY t.last_message_at DESC, t.updated_at DESC
		LIMIT ? OFFSET ?`

	rows, err := r.db.Query(query, queue, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads by queue: %w", err)
	}
	defer rows.Close()

	return collectThreads(rows)
}

// ListForBroadcast selects candidate threads in any of the target
// queues, most recently updated first.
func (r *threadRepository) ListForBroadcast(queues []models.Queue, limit int) ([]*models.Thread, error) {
	if len(queues) == 0 {
		return nil, fmt.Errorf("at least one queue is required")
	}

	placeholders := make([]string, len(queues))
	args := make([]any, 0, len(queues)+1)
	for i, q := range queues {
		placeholders[i] = "?"
		args = append(args, q)
	}

	query := `SELECT ` + threadColumns + threadJoin + `
		WHERE t.queue IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY t.updated_at DESC, t.id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list broadcast candidates: %w", err)
	}
	defer rows.Close()

	return collectThreads(rows)
}

func (r *threadRepository) ListAll() ([]*models.Thread, error) {
	rows, err := r.db.Query(`SELECT ` + threadColumns + threadJoin + ` ORDER BY t.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	return collectThreads(rows)
}

// QueueCounts returns the per-queue thread count used for panel badges.
func (r *threadRepository) QueueCounts() (map[models.Queue]int, error) {
	rows, err := r.db.Query(`SELECT queue, COUNT(*) FROM threads GROUP BY queue`)
	if err != nil {
		return nil, fmt.Errorf("failed to count threads by queue: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Queue]int)
	for _, q := range models.AllQueues() {
		counts[q] = 0
	}
	for rows.Next() {
		var queue models.Queue
		var count int
		if err := rows.Scan(&queue, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue count: %w", err)
		}
		counts[queue] = count
	}
	return counts, rows.Err()
}

func collectThreads(rows *sql.Rows) ([]*models.Thread, error) {
	var threads []*models.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, thread)
	}
	return threads, rows.Err()
}
