package db

import (
	"database/sql"
	"fmt"

	"whatsapp-hub/internal/models"
)

// WindowRepository persists per-line rate limit counters.
type WindowRepository interface {
	GetWindow(lineID int64) (*models.RateLimitWindow, error)
	SaveWindow(window *models.RateLimitWindow) error
}

type windowRepository struct {
	db *sql.DB
}

// NewWindowRepository creates a new WindowRepository
func NewWindowRepository(db *sql.DB) WindowRepository {
	return &windowRepository{db: db}
}

func (r *windowRepository) GetWindow(lineID int64) (*models.RateLimitWindow, error) {
	if lineID <= 0 {
		return nil, fmt.Errorf("line ID must be positive")
	}

	window := &models.RateLimitWindow{}
	err := r.db.QueryRow(
		`SELECT line_id, hourly_sent, daily_sent, window_start, last_reset_at
		 FROM rate_limit_windows WHERE line_id = ?`,
		lineID,
	).Scan(
		&window.LineID,
		&window.HourlySent,
		&window.DailySent,
		&window.WindowStart,
		&window.LastResetAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limit window: %w", err)
	}
	return window, nil
}

func (r *windowRepository) SaveWindow(window *models.RateLimitWindow) error {
	if window == nil {
		return fmt.Errorf("window cannot be nil")
	}
	if window.LineID <= 0 {
		return fmt.Errorf("line ID must be positive")
	}

	_, err := r.db.Exec(
		`INSERT INTO rate_limit_windows (line_id, hourly_sent, daily_sent, window_start, last_reset_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(line_id) DO UPDATE SET
			hourly_sent = excluded.hourly_sent,
			daily_sent = excluded.daily_sent,
			window_start = excluded.window_start,
			last_reset_at = excluded.last_reset_at`,
		window.LineID,
		window.HourlySent,
		window.DailySent,
		window.WindowStart,
		window.LastResetAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save rate limit window: %w", err)
	}
	return nil
}
