package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"whatsapp-hub/internal/models"
)

// BroadcastRepository defines the interface for broadcast data access
type BroadcastRepository interface {
	Create(broadcast *models.Broadcast) error
	GetByID(id int64) (*models.Broadcast, error)
	Update(broadcast *models.Broadcast) error
	ListRecent(limit int) ([]*models.Broadcast, error)
	ListPending() ([]*models.Broadcast, error)
}

type broadcastRepository struct {
	db *sql.DB
}

// NewBroadcastRepository creates a new BroadcastRepository
func NewBroadcastRepository(db *sql.DB) BroadcastRepository {
	return &broadcastRepository{db: db}
}

const broadcastColumns = `id, title, message, template_kind, template_key, queues, send_limit,
	status, attempted, sent, failed, limit_skipped, created_by, created_at, completed_at, last_error`

func scanBroadcast(row interface{ Scan(...any) error }) (*models.Broadcast, error) {
	broadcast := &models.Broadcast{}
	var queues string
	err := row.Scan(
		&broadcast.ID,
		&broadcast.Title,
		&broadcast.Message,
		&broadcast.TemplateKind,
		&broadcast.TemplateKey,
		&queues,
		&broadcast.Limit,
		&broadcast.Status,
		&broadcast.Stats.Attempted,
		&broadcast.Stats.Sent,
		&broadcast.Stats.Failed,
		&broadcast.Stats.LimitSkipped,
		&broadcast.CreatedBy,
		&broadcast.CreatedAt,
		&broadcast.CompletedAt,
		&broadcast.LastError,
	)
	if err != nil {
		return nil, err
	}
	if queues != "" {
		if err := json.Unmarshal([]byte(queues), &broadcast.Queues); err != nil {
			return nil, fmt.Errorf("failed to decode broadcast queues: %w", err)
		}
	}
	return broadcast, nil
}

func (r *broadcastRepository) Create(broadcast *models.Broadcast) error {
	if broadcast == nil {
		return fmt.Errorf("broadcast cannot be nil")
	}
	if broadcast.Title == "" {
		return fmt.Errorf("broadcast title cannot be empty")
	}

	queues, err := json.Marshal(broadcast.Queues)
	if err != nil {
		return fmt.Errorf("failed to encode broadcast queues: %w", err)
	}

	if broadcast.CreatedAt == 0 {
		broadcast.CreatedAt = time.Now().Unix()
	}
	if broadcast.Status == "" {
		broadcast.Status = models.BroadcastPending
	}

	query := `
		INSERT INTO broadcasts (title, message, template_kind, template_key, queues, send_limit,
			status, attempted, sent, failed, limit_skipped, created_by, created_at, completed_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Exec(query,
		broadcast.Title,
		broadcast.Message,
		broadcast.TemplateKind,
		broadcast.TemplateKey,
		string(queues),
		broadcast.Limit,
		broadcast.Status,
		broadcast.Stats.Attempted,
		broadcast.Stats.Sent,
		broadcast.Stats.Failed,
		broadcast.Stats.LimitSkipped,
		broadcast.CreatedBy,
		broadcast.CreatedAt,
		broadcast.CompletedAt,
		broadcast.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to create broadcast: %w", err)
	}

	broadcast.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get broadcast id: %w", err)
	}
	return nil
}

func (r *broadcastRepository) GetByID(id int64) (*models.Broadcast, error) {
	if id <= 0 {
		return nil, fmt.Errorf("broadcast ID must be positive")
	}

	query := `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE id = ?`
	broadcast, err := scanBroadcast(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get broadcast by ID: %w", err)
	}
	return broadcast, nil
}

func (r *broadcastRepository) Update(broadcast *models.Broadcast) error {
	if broadcast == nil {
		return fmt.Errorf("broadcast cannot be nil")
	}
	if broadcast.ID <= 0 {
		return fmt.Errorf("broadcast ID must be positive")
	}

	query := `
		UPDATE broadcasts
		SET status = ?, attempted = ?, sent = ?, failed = ?, limit_skipped = ?,
			completed_at = ?, last_error = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query,
		broadcast.Status,
		broadcast.Stats.Attempted,
		broadcast.Stats.Sent,
		broadcast.Stats.Failed,
		broadcast.Stats.LimitSkipped,
		broadcast.CompletedAt,
		broadcast.LastError,
		broadcast.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update broadcast: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("broadcast not found: %d", broadcast.ID)
	}
	return nil
}

func (r *broadcastRepository) ListRecent(limit int) ([]*models.Broadcast, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(
		`SELECT `+broadcastColumns+` FROM broadcasts ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list broadcasts: %w", err)
	}
	defer rows.Close()

	return collectBroadcasts(rows)
}

// ListPending returns broadcasts waiting for the background dispatcher.
func (r *broadcastRepository) ListPending() ([]*models.Broadcast, error) {
	rows, err := r.db.Query(
		`SELECT ` + broadcastColumns + ` FROM broadcasts WHERE status = 'pending' ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending broadcasts: %w", err)
	}
	defer rows.Close()

	return collectBroadcasts(rows)
}

func collectBroadcasts(rows *sql.Rows) ([]*models.Broadcast, error) {
	var broadcasts []*models.Broadcast
	for rows.Next() {
		broadcast, err := scanBroadcast(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan broadcast: %w", err)
		}
		broadcasts = append(broadcasts, broadcast)
	}
	return broadcasts, rows.Err()
}
