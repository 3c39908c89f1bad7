package db

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Database owns the SQLite connection shared by all repositories.
type Database struct {
	db *sql.DB
}

// NewDatabase opens the database at the given DSN and ensures the schema
// exists.
func NewDatabase(dsn string) (*Database, error) {
	if dsn == "" {
		return nil, errors.New("database DSN is required")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// Verify we can actually connect to the database
	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("ping failed: %w, close failed: %v", err, closeErr)
		}
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("create tables failed: %w, close failed: %v", err, closeErr)
		}
		return nil, err
	}

	return &Database{db: db}, nil
}

// DB exposes the underlying connection for repository construction.
func (d *Database) DB() *sql.DB {
	return d.db
}

func (d *Database) Close() error {
	if d == nil {
		return errors.New("database is nil")
	}
	if d.db == nil {
		return errors.New("database already closed")
	}

	err := d.db.Close()
	d.db = nil
	return err
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

const schema = `
	CREATE TABLE IF NOT EXISTS lines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL,
		provider TEXT NOT NULL,
		alt_instance TEXT NOT NULL DEFAULT '',
		display_phone TEXT NOT NULL DEFAULT '',
		credentials TEXT NOT NULL DEFAULT '',
		verify_token TEXT NOT NULL DEFAULT '',
		burst_cap INTEGER NOT NULL DEFAULT 0,
		hourly_cap INTEGER NOT NULL DEFAULT 0,
		daily_cap INTEGER NOT NULL DEFAULT 0,
		is_default BOOLEAN NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (label, provider)
	);

	CREATE TABLE IF NOT EXISTS contacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		phone TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		client_id INTEGER,
		blocked BOOLEAN NOT NULL DEFAULT 0,
		profile_name TEXT NOT NULL DEFAULT '',
		profile_photo TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS threads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		line_id INTEGER NOT NULL REFERENCES lines(id),
		contact_id INTEGER NOT NULL REFERENCES contacts(id),
		channel_thread_id TEXT NOT NULL,
		queue TEXT NOT NULL DEFAULT 'arrival',
		status TEXT NOT NULL DEFAULT 'open',
		assigned_user_id INTEGER NOT NULL DEFAULT 0,
		unread_count INTEGER NOT NULL DEFAULT 0,
		last_message_at INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		scheduled_for INTEGER,
		partner_id INTEGER,
		responsible_user_id INTEGER,
		intake_summary TEXT NOT NULL DEFAULT '',
		campaign_kind TEXT NOT NULL DEFAULT '',
		campaign_token TEXT NOT NULL DEFAULT '',
		UNIQUE (line_id, channel_thread_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id INTEGER NOT NULL REFERENCES threads(id),
		direction TEXT NOT NULL,
		contact_id INTEGER,
		user_id INTEGER,
		body TEXT NOT NULL DEFAULT '',
		media_path TEXT,
		media_mime TEXT,
		media_filename TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		provider_message_id TEXT UNIQUE,
		template_kind TEXT NOT NULL DEFAULT '',
		template_key TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS permissions (
		user_id INTEGER PRIMARY KEY,
		level INTEGER NOT NULL DEFAULT 3,
		inbox_access TEXT NOT NULL DEFAULT 'standard',
		view_scope TEXT NOT NULL DEFAULT 'self',
		view_scope_users TEXT NOT NULL DEFAULT '[]',
		panel_scope TEXT NOT NULL DEFAULT '[]',
		can_forward BOOLEAN NOT NULL DEFAULT 0,
		can_start_thread BOOLEAN NOT NULL DEFAULT 0,
		can_view_completed BOOLEAN NOT NULL DEFAULT 0,
		can_grant_permissions BOOLEAN NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS broadcasts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		template_kind TEXT NOT NULL DEFAULT '',
		template_key TEXT NOT NULL DEFAULT '',
		queues TEXT NOT NULL DEFAULT '[]',
		send_limit INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		attempted INTEGER NOT NULL DEFAULT 0,
		sent INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		limit_skipped INTEGER NOT NULL DEFAULT 0,
		created_by INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		completed_at INTEGER,
		last_error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS rate_limit_windows (
		line_id INTEGER PRIMARY KEY,
		hourly_sent INTEGER NOT NULL DEFAULT 0,
		daily_sent INTEGER NOT NULL DEFAULT 0,
		window_start INTEGER NOT NULL DEFAULT 0,
		last_reset_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_threads_queue ON threads(queue);
	CREATE INDEX IF NOT EXISTS idx_threads_updated_at ON threads(updated_at);
	CREATE INDEX IF NOT EXISTS idx_threads_assigned ON threads(assigned_user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_thread_id ON messages(thread_id);
	CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
	CREATE INDEX IF NOT EXISTS idx_contacts_phone ON contacts(phone);
	CREATE INDEX IF NOT EXISTS idx_lines_label ON lines(label);
`
