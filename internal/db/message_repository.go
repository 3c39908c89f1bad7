package db

import (
	"database/sql"
	"fmt"
	"time"

	"whatsapp-hub/internal/models"
)

// ErrDuplicateMessage reports an insert refused by the provider message
// id uniqueness guard.
var ErrDuplicateMessage = fmt.Errorf("duplicate provider message id")

// MessageRepository defines the interface for message data access
type MessageRepository interface {
	Create(message *models.Message) error
	GetByID(id int64) (*models.Message, error)
	GetByProviderID(providerMessageID string) (*models.Message, error)
	ListByThread(threadID int64, limit, offset int) ([]*models.Message, error)
	ListAll() ([]*models.Message, error)
	ApplyReceipt(providerMessageID string, status models.MessageStatus) (bool, error)
	SetStatus(id int64, status models.MessageStatus) error
	SetProviderMessageID(id int64, providerMessageID string) error
	LastPreview(threadID int64) (string, error)
	ExistsAt(threadID int64, createdAt int64, body string) (bool, error)
}

type messageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *sql.DB) MessageRepository {
	return &messageRepository{db: db}
}

const messageColumns = `id, thread_id, direction, contact_id, user_id, body,
	media_path, media_mime, media_filename, status, provider_message_id,
	template_kind, template_key, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	message := &models.Message{}
	var mediaPath, mediaMime, mediaFilename, providerID sql.NullString
	err := row.Scan(
		&message.ID,
		&message.ThreadID,
		&message.Direction,
		&message.ContactID,
		&message.UserID,
		&message.Body,
		&mediaPath,
		&mediaMime,
		&mediaFilename,
		&message.Status,
		&providerID,
		&message.TemplateKind,
		&message.TemplateKey,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if mediaPath.Valid {
		message.Media = &models.Media{
			Path:     mediaPath.String,
			Mime:     mediaMime.String,
			Filename: mediaFilename.String,
		}
	}
	message.ProviderMessageID = providerID.String
	return message, nil
}

// Create persists a message. An empty provider message id is stored as
// NULL so the uniqueness guard only applies to real provider ids; a
// second insert with the same provider id returns ErrDuplicateMessage
// without mutating anything.
func (r *messageRepository) Create(message *models.Message) error {
	if message == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if message.ThreadID <= 0 {
		return fmt.Errorf("message thread ID must be positive")
	}
	if message.ContactID != nil && message.UserID != nil {
		return fmt.Errorf("message author must be a contact or a user, not both")
	}

	if message.CreatedAt == 0 {
		message.CreatedAt = time.Now().Unix()
	}

	var providerID *string
	if message.ProviderMessageID != "" {
		providerID = &message.ProviderMessageID
	}

	var mediaPath, mediaMime, mediaFilename *string
	if message.Media != nil {
		mediaPath = &message.Media.Path
		mediaMime = &message.Media.Mime
		mediaFilename = &message.Media.Filename
	}

	query := `
		INSERT INTO messages (thread_id, direction, contact_id, user_id, body,
			media_path, media_mime, media_filename, status, provider_message_id,
			template_kind, template_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_message_id) DO NOTHING
	`

	result, err := r.db.Exec(query,
		message.ThreadID,
		message.Direction,
		message.ContactID,
		message.UserID,
		message.Body,
		mediaPath,
		mediaMime,
		mediaFilename,
		message.Status,
		providerID,
		message.TemplateKind,
		message.TemplateKey,
		message.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check insert result: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateMessage
	}

	message.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get message id: %w", err)
	}
	return nil
}

func (r *messageRepository) GetByID(id int64) (*models.Message, error) {
	if id <= 0 {
		return nil, fmt.Errorf("message ID must be positive")
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	message, err := scanMessage(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message by ID: %w", err)
	}
	return message, nil
}

func (r *messageRepository) GetByProviderID(providerMessageID string) (*models.Message, error) {
	if providerMessageID == "" {
		return nil, fmt.Errorf("provider message ID cannot be empty")
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE provider_message_id = ?`
	message, err := scanMessage(r.db.QueryRow(query, providerMessageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message by provider ID: %w", err)
	}
	return message, nil
}

func (r *messageRepository) ListByThread(threadID int64, limit, offset int) ([]*models.Message, error) {
	if threadID <= 0 {
		return nil, fmt.Errorf("thread ID must be positive")
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE thread_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?`

	rows, err := r.db.Query(query, threadID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

func (r *messageRepository) ListAll() ([]*models.Message, error) {
	rows, err := r.db.Query(`SELECT ` + messageColumns + ` FROM messages ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// ApplyReceipt folds a delivery receipt into the matching outbound
// message. The status only ever advances; receipts against a terminal
// or more advanced status are ignored. Returns whether a row changed.
func (r *messageRepository) ApplyReceipt(providerMessageID string, status models.MessageStatus) (bool, error) {
	if providerMessageID == "" {
		return false, fmt.Errorf("provider message ID cannot be empty")
	}

	message, err := r.GetByProviderID(providerMessageID)
	if err != nil {
		return false, err
	}
	if message == nil {
		return false, nil
	}
	if !message.Status.CanTransitionTo(status) {
		return false, nil
	}

	// Guarded update: the WHERE clause repeats the current status so a
	// racing receipt cannot double-apply.
	result, err := r.db.Exec(
		`UPDATE messages SET status = ? WHERE provider_message_id = ? AND status = ?`,
		status, providerMessageID, message.Status,
	)
	if err != nil {
		return false, fmt.Errorf("failed to apply receipt: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check receipt result: %w", err)
	}
	return affected > 0, nil
}

func (r *messageRepository) SetStatus(id int64, status models.MessageStatus) error {
	if id <= 0 {
		return fmt.Errorf("message ID must be positive")
	}

	result, err := r.db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to set message status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("message not found: %d", id)
	}
	return nil
}

func (r *messageRepository) SetProviderMessageID(id int64, providerMessageID string) error {
	if id <= 0 {
		return fmt.Errorf("message ID must be positive")
	}

	_, err := r.db.Exec(`UPDATE messages SET provider_message_id = ? WHERE id = ?`, providerMessageID, id)
	if err != nil {
		return fmt.Errorf("failed to set provider message id: %w", err)
	}
	return nil
}

// LastPreview returns the newest message body for a thread card.
func (r *messageRepository) LastPreview(threadID int64) (string, error) {
	if threadID <= 0 {
		return "", fmt.Errorf("thread ID must be positive")
	}

	var body string
	err := r.db.QueryRow(
		`SELECT body FROM messages WHERE thread_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		threadID,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get last message: %w", err)
	}
	return body, nil
}

// ExistsAt matches a message with no provider id by its fallback natural
// key, used by the backup import to skip duplicates.
func (r *messageRepository) ExistsAt(threadID int64, createdAt int64, body string) (bool, error) {
	if threadID <= 0 {
		return false, fmt.Errorf("thread ID must be positive")
	}

	var count int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE thread_id = ? AND created_at = ? AND body = ?`,
		threadID, createdAt, body,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}
	return count > 0, nil
}

func collectMessages(rows *sql.Rows) ([]*models.Message, error) {
	var messages []*models.Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}
