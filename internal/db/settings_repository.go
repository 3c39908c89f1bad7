package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

const accessSettingsKey = "access_settings"

// SettingsRepository stores small JSON settings blobs by key. Access
// settings (AVP block, allow-list) live here.
type SettingsRepository interface {
	Get(key string, out any) (bool, error)
	Set(key string, value any) error
}

type settingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(db *sql.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

// Get decodes the stored value into out. Returns false when the key has
// never been set.
func (r *settingsRepository) Get(key string, out any) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("settings key cannot be empty")
	}

	var raw string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("failed to decode setting %s: %w", key, err)
	}
	return true, nil
}

func (r *settingsRepository) Set(key string, value any) error {
	if key == "" {
		return fmt.Errorf("settings key cannot be empty")
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", key, err)
	}

	_, err = r.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}
