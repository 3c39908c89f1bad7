package db

import (
	"database/sql"
	"testing"

	"whatsapp-hub/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// Each pooled connection to :memory: would get its own database, so
	// pin the pool to one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := createTables(db); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// seedLine inserts a minimal active line and returns it.
func seedLine(t *testing.T, db *sql.DB, label string, provider models.Provider) *models.Line {
	t.Helper()

	line := models.NewLine(label, provider)
	if err := NewLineRepository(db).Create(line); err != nil {
		t.Fatalf("failed to seed line: %v", err)
	}
	return line
}

// seedContact inserts a contact by phone and returns it.
func seedContact(t *testing.T, db *sql.DB, phone string) *models.Contact {
	t.Helper()

	contact := models.NewContact(phone, "")
	if err := NewContactRepository(db).Create(contact); err != nil {
		t.Fatalf("failed to seed contact: %v", err)
	}
	return contact
}

// seedThread inserts a thread joining the given line and contact.
func seedThread(t *testing.T, db *sql.DB, line *models.Line, contact *models.Contact, channelID string) *models.Thread {
	t.Helper()

	thread := models.NewThread(line.ID, contact.ID, channelID)
	if err := NewThreadRepository(db).Create(thread); err != nil {
		t.Fatalf("failed to seed thread: %v", err)
	}
	return thread
}
