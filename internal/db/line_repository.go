package db

import (
	"database/sql"
	"fmt"
	"time"

	"whatsapp-hub/internal/models"
)

// LineToken pairs a line with its webhook verify token. The ingestion
// pipeline matches inbound verification requests against this list.
type LineToken struct {
	LineID int64
	Token  string
}

// LineRepository defines the interface for line data access
type LineRepository interface {
	Create(line *models.Line) error
	GetByID(id int64) (*models.Line, error)
	GetByLabelProvider(label string, provider models.Provider) (*models.Line, error)
	GetDefault() (*models.Line, error)
	List(activeOnly bool) ([]*models.Line, error)
	Update(line *models.Line) error
	Delete(id int64) error
	VerifyTokens() ([]LineToken, error)
}

type lineRepository struct {
	db *sql.DB
}

// NewLineRepository creates a new LineRepository
func NewLineRepository(db *sql.DB) LineRepository {
	return &lineRepository{db: db}
}

const lineColumns = `id, label, provider, alt_instance, display_phone, credentials, verify_token,
	burst_cap, hourly_cap, daily_cap, is_default, active, created_at, updated_at`

func scanLine(row interface{ Scan(...any) error }) (*models.Line, error) {
	line := &models.Line{}
	err := row.Scan(
		&line.ID,
		&line.Label,
		&line.Provider,
		&line.AltInstance,
		&line.DisplayPhone,
		&line.Credentials,
		&line.VerifyToken,
		&line.BurstCap,
		&line.HourlyCap,
		&line.DailyCap,
		&line.IsDefault,
		&line.Active,
		&line.CreatedAt,
		&line.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (r *lineRepository) Create(line *models.Line) error {
	if line == nil {
		return fmt.Errorf("line cannot be nil")
	}
	if !line.Provider.Valid() {
		return fmt.Errorf("invalid provider: %s", line.Provider)
	}

	now := time.Now().Unix()
	if line.CreatedAt == 0 {
		line.CreatedAt = now
	}
	line.UpdatedAt = now

	query := `
		INSERT INTO lines (label, provider, alt_instance, display_phone, credentials, verify_token,
			burst_cap, hourly_cap, daily_cap, is_default, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Exec(query,
		line.Label,
		line.Provider,
		line.AltInstance,
		line.DisplayPhone,
		line.Credentials,
		line.VerifyToken,
		line.BurstCap,
		line.HourlyCap,
		line.DailyCap,
		line.IsDefault,
		line.Active,
		line.CreatedAt,
		line.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create line: %w", err)
	}

	line.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get line id: %w", err)
	}
	return nil
}

func (r *lineRepository) GetByID(id int64) (*models.Line, error) {
	if id <= 0 {
		return nil, fmt.Errorf("line ID must be positive")
	}

	query := `SELECT ` + lineColumns + ` FROM lines WHERE id = ?`
	line, err := scanLine(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get line by ID: %w", err)
	}
	return line, nil
}

// GetByLabelProvider looks a line up by its natural key, used by the
// backup import to match existing rows.
func (r *lineRepository) GetByLabelProvider(label string, provider models.Provider) (*models.Line, error) {
	if label == "" {
		return nil, fmt.Errorf("line label cannot be empty")
	}

	query := `SELECT ` + lineColumns + ` FROM lines WHERE label = ? AND provider = ?`
	line, err := scanLine(r.db.QueryRow(query, label, provider))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get line by label: %w", err)
	}
	return line, nil
}

// GetDefault returns the active default line, or the oldest active line
// when none is flagged default.
func (r *lineRepository) GetDefault() (*models.Line, error) {
	query := `SELECT ` + lineColumns + ` FROM lines WHERE active = 1 ORDER BY is_default DESC, id ASC LIMIT 1`
	line, err := scanLine(r.db.QueryRow(query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get default line: %w", err)
	}
	return line, nil
}

func (r *lineRepository) List(activeOnly bool) ([]*models.Line, error) {
	query := `SELECT ` + lineColumns + ` FROM lines`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list lines: %w", err)
	}
	defer rows.Close()

	var lines []*models.Line
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *lineRepository) Update(line *models.Line) error {
	if line == nil {
		return fmt.Errorf("line cannot be nil")
	}
	if line.ID <= 0 {
		return fmt.Errorf("line ID must be positive")
	}

	line.UpdatedAt = time.Now().Unix()

	query := `
		UPDATE lines
		SET label = ?, provider = ?, alt_instance = ?, display_phone = ?, credentials = ?,
			verify_token = ?, burst_cap = ?, hourly_cap = ?, daily_cap = ?, is_default = ?,
			active = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query,
		line.Label,
		line.Provider,
		line.AltInstance,
		line.DisplayPhone,
		line.Credentials,
		line.VerifyToken,
		line.BurstCap,
		line.HourlyCap,
		line.DailyCap,
		line.IsDefault,
		line.Active,
		line.UpdatedAt,
		line.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update line: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("line not found: %d", line.ID)
	}
	return nil
}

func (r *lineRepository) Delete(id int64) error {
	if id <= 0 {
		return fmt.Errorf("line ID must be positive")
	}

	result, err := r.db.Exec(`DELETE FROM lines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete line: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("line not found: %d", id)
	}
	return nil
}

// VerifyTokens returns the verify token of every active line that has
// one configured.
func (r *lineRepository) VerifyTokens() ([]LineToken, error) {
	rows, err := r.db.Query(`SELECT id, verify_token FROM lines WHERE active = 1 AND verify_token != ''`)
	if err != nil {
		return nil, fmt.Errorf("failed to list verify tokens: %w", err)
	}
	defer rows.Close()

	var tokens []LineToken
	for rows.Next() {
		var token LineToken
		if err := rows.Scan(&token.LineID, &token.Token); err != nil {
			return nil, fmt.Errorf("failed to scan verify token: %w", err)
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}
