package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"whatsapp-hub/internal/models"
)

// ContactRepository defines the interface for contact data access
type ContactRepository interface {
	Create(contact *models.Contact) error
	GetByID(id int64) (*models.Contact, error)
	GetByPhone(phone string) (*models.Contact, error)
	UpsertByPhone(phone, profileName, profilePhoto string) (*models.Contact, error)
	Update(contact *models.Contact) error
	SetBlocked(id int64, blocked bool) error
	ListBlocked() ([]*models.Contact, error)
	List(limit, offset int) ([]*models.Contact, error)
}

type contactRepository struct {
	db *sql.DB
}

// NewContactRepository creates a new ContactRepository
func NewContactRepository(db *sql.DB) ContactRepository {
	return &contactRepository{db: db}
}

const contactColumns = `id, phone, name, tags, client_id, blocked, profile_name, profile_photo, created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (*models.Contact, error) {
	contact := &models.Contact{}
	var tags string
	err := row.Scan(
		&contact.ID,
		&contact.Phone,
		&contact.Name,
		&tags,
		&contact.ClientID,
		&contact.Blocked,
		&contact.ProfileName,
		&contact.ProfilePhoto,
		&contact.CreatedAt,
		&contact.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &contact.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode contact tags: %w", err)
		}
	}
	return contact, nil
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode contact tags: %w", err)
	}
	return string(raw), nil
}

func (r *contactRepository) Create(contact *models.Contact) error {
	if contact == nil {
		return fmt.Errorf("contact cannot be nil")
	}
	if contact.Phone == "" {
		return fmt.Errorf("contact phone cannot be empty")
	}

	tags, err := marshalTags(contact.Tags)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	if contact.CreatedAt == 0 {
		contact.CreatedAt = now
	}
	contact.UpdatedAt = now

	query := `
		INSERT INTO contacts (phone, name, tags, client_id, blocked, profile_name, profile_photo, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Exec(query,
		contact.Phone,
		contact.Name,
		tags,
		contact.ClientID,
		contact.Blocked,
		contact.ProfileName,
		contact.ProfilePhoto,
		contact.CreatedAt,
		contact.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}

	contact.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get contact id: %w", err)
	}
	return nil
}

func (r *contactRepository) GetByID(id int64) (*models.Contact, error) {
	if id <= 0 {
		return nil, fmt.Errorf("contact ID must be positive")
	}

	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = ?`
	contact, err := scanContact(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact by ID: %w", err)
	}
	return contact, nil
}

func (r *contactRepository) GetByPhone(phone string) (*models.Contact, error) {
	if phone == "" {
		return nil, fmt.Errorf("contact phone cannot be empty")
	}

	query := `SELECT ` + contactColumns + ` FROM contacts WHERE phone = ?`
	contact, err := scanContact(r.db.QueryRow(query, phone))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact by phone: %w", err)
	}
	return contact, nil
}

// UpsertByPhone resolves or creates the contact for an inbound event.
// Provider profile metadata refreshes existing rows but never clears a
// value already set.
func (r *contactRepository) UpsertByPhone(phone, profileName, profilePhoto string) (*models.Contact, error) {
	if phone == "" {
		return nil, fmt.Errorf("contact phone cannot be empty")
	}

	now := time.Now().Unix()
	query := `
		INSERT INTO contacts (phone, profile_name, profile_photo, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET
			profile_name = CASE WHEN excluded.profile_name != '' THEN excluded.profile_name ELSE contacts.profile_name END,
			profile_photo = CASE WHEN excluded.profile_photo != '' THEN excluded.profile_photo ELSE contacts.profile_photo END,
			updated_at = excluded.updated_at
	`
	if _, err := r.db.Exec(query, phone, profileName, profilePhoto, now, now); err != nil {
		return nil, fmt.Errorf("failed to upsert contact: %w", err)
	}

	return r.GetByPhone(phone)
}

func (r *contactRepository) Update(contact *models.Contact) error {
	if contact == nil {
		return fmt.Errorf("contact cannot be nil")
	}
	if contact.ID <= 0 {
		return fmt.Errorf("contact ID must be positive")
	}

	tags, err := marshalTags(contact.Tags)
	if err != nil {
		return err
	}
	contact.UpdatedAt = time.Now().Unix()

	query := `
		UPDATE contacts
		SET phone = ?, name = ?, tags = ?, client_id = ?, blocked = ?,
			profile_name = ?, profile_photo = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query,
		contact.Phone,
		contact.Name,
		tags,
		contact.ClientID,
		contact.Blocked,
		contact.ProfileName,
		contact.ProfilePhoto,
		contact.UpdatedAt,
		contact.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("contact not found: %d", contact.ID)
	}
	return nil
}

func (r *contactRepository) SetBlocked(id int64, blocked bool) error {
	if id <= 0 {
		return fmt.Errorf("contact ID must be positive")
	}

	result, err := r.db.Exec(
		`UPDATE contacts SET blocked = ?, updated_at = ? WHERE id = ?`,
		blocked, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set blocked flag: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("contact not found: %d", id)
	}
	return nil
}

func (r *contactRepository) ListBlocked() ([]*models.Contact, error) {
	rows, err := r.db.Query(`SELECT ` + contactColumns + ` FROM contacts WHERE blocked = 1 ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked contacts: %w", err)
	}
	defer rows.Close()

	return collectContacts(rows)
}

func (r *contactRepository) List(limit, offset int) ([]*models.Contact, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(
		`SELECT `+contactColumns+` FROM contacts ORDER BY updated_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	return collectContacts(rows)
}

func collectContacts(rows *sql.Rows) ([]*models.Contact, error) {
	var contacts []*models.Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, contact)
	}
	return contacts, rows.Err()
}
