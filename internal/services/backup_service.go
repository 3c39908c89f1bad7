package services

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"whatsapp-hub/internal/db"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/permissions"
	"whatsapp-hub/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	backupSchemaVersion = 1
	backupManifestName  = "whatsapp-backup.json"
)

// backupManifest is the versioned archive schema. Rows reference each
// other through natural keys, never raw row ids, so imports resolve
// against whatever ids the target database assigns.
type backupManifest struct {
	SchemaVersion int             `json:"schema_version"`
	ID            string          `json:"id"`
	GeneratedAt   int64           `json:"generated_at"`
	Lines         []backupLine    `json:"lines"`
	Contacts      []backupContact `json:"contacts"`
	Threads       []backupThread  `json:"threads"`
	Messages      []backupMessage `json:"messages"`
}

type backupLine struct {
	Label        string `json:"label"`
	Provider     string `json:"provider"`
	AltInstance  string `json:"alt_instance,omitempty"`
	DisplayPhone string `json:"display_phone,omitempty"`
	Credentials  string `json:"credentials,omitempty"`
	VerifyToken  string `json:"verify_token,omitempty"`
	BurstCap     int    `json:"burst_cap"`
	HourlyCap    int    `json:"hourly_cap"`
	DailyCap     int    `json:"daily_cap"`
	IsDefault    bool   `json:"is_default"`
	Active       bool   `json:"active"`
	CreatedAt    int64  `json:"created_at"`
}

type backupContact struct {
	Phone        string   `json:"phone"`
	Name         string   `json:"name,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Blocked      bool     `json:"blocked,omitempty"`
	ProfileName  string   `json:"profile_name,omitempty"`
	ProfilePhoto string   `json:"profile_photo,omitempty"`
	CreatedAt    int64    `json:"created_at"`
}

// threadKey is the thread's natural key inside the archive.
type threadKey struct {
	LineLabel       string `json:"line_label"`
	LineProvider    string `json:"line_provider"`
	ChannelThreadID string `json:"channel_thread_id"`
}

type backupThread struct {
	threadKey
	ContactPhone  string `json:"contact_phone"`
	Queue         string `json:"queue"`
	Status        string `json:"status"`
	UnreadCount   int    `json:"unread_count,omitempty"`
	LastMessageAt int64  `json:"last_message_at,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	ScheduledFor  *int64 `json:"scheduled_for,omitempty"`
	IntakeSummary string `json:"intake_summary,omitempty"`
}

type backupMessage struct {
	threadKey
	Direction         string        `json:"direction"`
	UserID            *int64        `json:"user_id,omitempty"`
	Body              string        `json:"body"`
	Media             *models.Media `json:"media,omitempty"`
	Status            string        `json:"status"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	TemplateKind      string        `json:"template_kind,omitempty"`
	TemplateKey       string        `json:"template_key,omitempty"`
	CreatedAt         int64         `json:"created_at"`
}

// ImportStats reports created vs skipped-as-duplicate counts per table.
type ImportStats struct {
	LinesCreated    int `json:"lines_created"`
	LinesSkipped    int `json:"lines_skipped"`
	ContactsCreated int `json:"contacts_created"`
	ContactsSkipped int `json:"contacts_skipped"`
	ThreadsCreated  int `json:"threads_created"`
	ThreadsSkipped  int `json:"threads_skipped"`
	MessagesCreated int `json:"messages_created"`
	MessagesSkipped int `json:"messages_skipped"`
}

// BackupService serializes conversation history to a portable zip and
// restores it with natural-key upserts.
type BackupService struct {
	lines    db.LineRepository
	contacts db.ContactRepository
	threads  db.ThreadRepository
	messages db.MessageRepository
	resolver *permissions.Resolver

	// archiveDir keeps a server-side copy of every export when set.
	archiveDir string
}

// NewBackupService creates a new BackupService
func NewBackupService(
	lines db.LineRepository,
	contacts db.ContactRepository,
	threads db.ThreadRepository,
	messages db.MessageRepository,
	resolver *permissions.Resolver,
	archiveDir string,
) *BackupService {
	return &BackupService{
		lines:      lines,
		contacts:   contacts,
		threads:    threads,
		messages:   messages,
		resolver:   resolver,
		archiveDir: archiveDir,
	}
}

// Export writes the archive to w. Line secret material is redacted
// unless includeSecrets is set. Admin only.
func (s *BackupService) Export(identity models.Identity, includeSecrets bool, w io.Writer) error {
	if _, err := s.resolver.Resolve(identity); err != nil {
		return err
	}
	if !identity.Admin {
		return &PermissionError{UserID: identity.UserID, Action: "export backup", Reason: "admin only"}
	}

	manifest, err := s.buildManifest(includeSecrets)
	if err != nil {
		return err
	}

	out := w
	if s.archiveDir != "" {
		if err := os.MkdirAll(s.archiveDir, 0o755); err != nil {
			return fmt.Errorf("failed to prepare backup directory: %w", err)
		}
		name := fmt.Sprintf("whatsapp-backup-%s.zip", time.Now().Format("20060102_150405"))
		file, err := os.Create(filepath.Join(s.archiveDir, name))
		if err != nil {
			return fmt.Errorf("failed to create backup file: %w", err)
		}
		defer file.Close()
		out = io.MultiWriter(w, file)
	}

	archive := zip.NewWriter(out)
	entry, err := archive.Create(backupManifestName)
	if err != nil {
		return fmt.Errorf("failed to create archive entry: %w", err)
	}

	encoder := json.NewEncoder(entry)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(manifest); err != nil {
		return fmt.Errorf("failed to encode backup manifest: %w", err)
	}
	if err := archive.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}

	logger.Info("backup exported",
		zap.String("backup_id", manifest.ID),
		zap.Int("threads", len(manifest.Threads)),
		zap.Int("messages", len(manifest.Messages)))
	return nil
}

func (s *BackupService) buildManifest(includeSecrets bool) (*backupManifest, error) {
	manifest := &backupManifest{
		SchemaVersion: backupSchemaVersion,
		ID:            uuid.New().String(),
		GeneratedAt:   time.Now().Unix(),
	}

	lines, err := s.lines.List(false)
	if err != nil {
		return nil, err
	}
	lineKeys := make(map[int64]threadKey)
	for _, line := range lines {
		entry := backupLine{
			Label:        line.Label,
			Provider:     string(line.Provider),
			AltInstance:  line.AltInstance,
			DisplayPhone: line.DisplayPhone,
			BurstCap:     line.BurstCap,
			HourlyCap:    line.HourlyCap,
			DailyCap:     line.DailyCap,
			IsDefault:    line.IsDefault,
			Active:       line.Active,
			CreatedAt:    line.CreatedAt,
		}
		if includeSecrets {
			entry.Credentials = line.Credentials
			entry.VerifyToken = line.VerifyToken
		}
		manifest.Lines = append(manifest.Lines, entry)
		lineKeys[line.ID] = threadKey{LineLabel: line.Label, LineProvider: string(line.Provider)}
	}

	contacts, err := s.contacts.List(1<<31-1, 0)
	if err != nil {
		return nil, err
	}
	for _, contact := range contacts {
		manifest.Contacts = append(manifest.Contacts, backupContact{
			Phone:        contact.Phone,
			Name:         contact.Name,
			Tags:         contact.Tags,
			Blocked:      contact.Blocked,
			ProfileName:  contact.ProfileName,
			ProfilePhoto: contact.ProfilePhoto,
			CreatedAt:    contact.CreatedAt,
		})
	}

	threads, err := s.threads.ListAll()
	if err != nil {
		return nil, err
	}
	threadKeys := make(map[int64]threadKey)
	for _, thread := range threads {
		key := lineKeys[thread.LineID]
		key.ChannelThreadID = thread.ChannelThreadID
		threadKeys[thread.ID] = key
		manifest.Threads = append(manifest.Threads, backupThread{
			threadKey:     key,
			ContactPhone:  thread.ContactPhone,
			Queue:         string(thread.Queue),
			Status:        string(thread.Status),
			UnreadCount:   thread.UnreadCount,
			LastMessageAt: thread.LastMessageAt,
			CreatedAt:     thread.CreatedAt,
			ScheduledFor:  thread.ScheduledFor,
			IntakeSummary: thread.IntakeSummary,
		})
	}

	messages, err := s.messages.ListAll()
	if err != nil {
		return nil, err
	}
	for _, message := range messages {
		manifest.Messages = append(manifest.Messages, backupMessage{
			threadKey:         threadKeys[message.ThreadID],
			Direction:         string(message.Direction),
			UserID:            message.UserID,
			Body:              message.Body,
			Media:             message.Media,
			Status:            string(message.Status),
			ProviderMessageID: message.ProviderMessageID,
			TemplateKind:      message.TemplateKind,
			TemplateKey:       message.TemplateKey,
			CreatedAt:         message.CreatedAt,
		})
	}

	return manifest, nil
}

// Import restores an exported archive. Every record upserts by natural
// key; a second import of the same archive creates nothing. Admin only.
func (s *BackupService) Import(identity models.Identity, r io.ReaderAt, size int64) (*ImportStats, error) {
	if _, err := s.resolver.Resolve(identity); err != nil {
		return nil, err
	}
	if !identity.Admin {
		return nil, &PermissionError{UserID: identity.UserID, Action: "import backup", Reason: "admin only"}
	}

	manifest, err := readManifest(r, size)
	if err != nil {
		return nil, err
	}

	stats := &ImportStats{}
	if err := s.importLines(manifest, stats); err != nil {
		return stats, err
	}
	if err := s.importContacts(manifest, stats); err != nil {
		return stats, err
	}
	if err := s.importThreads(manifest, stats); err != nil {
		return stats, err
	}
	if err := s.importMessages(manifest, stats); err != nil {
		return stats, err
	}

	logger.Info("backup imported",
		zap.String("backup_id", manifest.ID),
		zap.Int("threads_created", stats.ThreadsCreated),
		zap.Int("messages_created", stats.MessagesCreated),
		zap.Int("messages_skipped", stats.MessagesSkipped))
	return stats, nil
}

func readManifest(r io.ReaderAt, size int64) (*backupManifest, error) {
	archive, err := zip.NewReader(r, size)
	if err != nil {
		return nil, newValidationError("archive", "not a valid backup archive")
	}

	for _, file := range archive.File {
		if file.Name != backupManifestName {
			continue
		}
		entry, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open manifest: %w", err)
		}
		defer entry.Close()

		manifest := &backupManifest{}
		if err := json.NewDecoder(entry).Decode(manifest); err != nil {
			return nil, newValidationError("archive", "malformed backup manifest")
		}
		if manifest.SchemaVersion != backupSchemaVersion {
			return nil, newValidationError("archive", fmt.Sprintf("unsupported schema version %d", manifest.SchemaVersion))
		}
		return manifest, nil
	}
	return nil, newValidationError("archive", backupManifestName+" missing from archive")
}

func (s *BackupService) importLines(manifest *backupManifest, stats *ImportStats) error {
	for _, entry := range manifest.Lines {
		existing, err := s.lines.GetByLabelProvider(entry.Label, models.Provider(entry.Provider))
		if err != nil {
			return err
		}
		if existing != nil {
			stats.LinesSkipped++
			continue
		}

		line := &models.Line{
			Label:        entry.Label,
			Provider:     models.Provider(entry.Provider),
			AltInstance:  entry.AltInstance,
			DisplayPhone: entry.DisplayPhone,
			Credentials:  entry.Credentials,
			VerifyToken:  entry.VerifyToken,
			BurstCap:     entry.BurstCap,
			HourlyCap:    entry.HourlyCap,
			DailyCap:     entry.DailyCap,
			IsDefault:    entry.IsDefault,
			Active:       entry.Active,
			CreatedAt:    entry.CreatedAt,
		}
		if err := s.lines.Create(line); err != nil {
			return err
		}
		stats.LinesCreated++
	}
	return nil
}

func (s *BackupService) importContacts(manifest *backupManifest, stats *ImportStats) error {
	for _, entry := range manifest.Contacts {
		existing, err := s.contacts.GetByPhone(entry.Phone)
		if err != nil {
			return err
		}
		if existing != nil {
			stats.ContactsSkipped++
			continue
		}

		contact := &models.Contact{
			Phone:        entry.Phone,
			Name:         entry.Name,
			Tags:         entry.Tags,
			Blocked:      entry.Blocked,
			ProfileName:  entry.ProfileName,
			ProfilePhoto: entry.ProfilePhoto,
			CreatedAt:    entry.CreatedAt,
		}
		if err := s.contacts.Create(contact); err != nil {
			return err
		}
		stats.ContactsCreated++
	}
	return nil
}

func (s *BackupService) importThreads(manifest *backupManifest, stats *ImportStats) error {
	for _, entry := range manifest.Threads {
		line, err := s.lines.GetByLabelProvider(entry.LineLabel, models.Provider(entry.LineProvider))
		if err != nil {
			return err
		}
		if line == nil {
			return newValidationError("archive", fmt.Sprintf("thread references unknown line %s/%s", entry.LineLabel, entry.LineProvider))
		}

		existing, err := s.threads.GetByChannel(line.ID, entry.ChannelThreadID)
		if err != nil {
			return err
		}
		if existing != nil {
			stats.ThreadsSkipped++
			continue
		}

		contact, err := s.contacts.GetByPhone(entry.ContactPhone)
		if err != nil {
			return err
		}
		if contact == nil {
			return newValidationError("archive", fmt.Sprintf("thread references unknown contact %s", entry.ContactPhone))
		}

		queue, ok := models.ParseQueue(entry.Queue)
		if !ok {
			queue = models.QueueArrival
		}
		status, ok := models.ParseThreadStatus(entry.Status)
		if !ok {
			status = models.StatusOpen
		}

		thread := &models.Thread{
			LineID:          line.ID,
			ContactID:       contact.ID,
			ChannelThreadID: entry.ChannelThreadID,
			Queue:           queue,
			Status:          status,
			UnreadCount:     entry.UnreadCount,
			LastMessageAt:   entry.LastMessageAt,
			CreatedAt:       entry.CreatedAt,
			ScheduledFor:    entry.ScheduledFor,
			IntakeSummary:   entry.IntakeSummary,
		}
		if err := s.threads.Create(thread); err != nil {
			return err
		}
		stats.ThreadsCreated++
	}
	return nil
}

func (s *BackupService) importMessages(manifest *backupManifest, stats *ImportStats) error {
	for _, entry := range manifest.Messages {
		line, err := s.lines.GetByLabelProvider(entry.LineLabel, models.Provider(entry.LineProvider))
		if err != nil {
			return err
		}
		if line == nil {
			return newValidationError("archive", fmt.Sprintf("message references unknown line %s/%s", entry.LineLabel, entry.LineProvider))
		}

		thread, err := s.threads.GetByChannel(line.ID, entry.ChannelThreadID)
		if err != nil {
			return err
		}
		if thread == nil {
			return newValidationError("archive", fmt.Sprintf("message references unknown thread %s", entry.ChannelThreadID))
		}

		if entry.ProviderMessageID != "" {
			existing, err := s.messages.GetByProviderID(entry.ProviderMessageID)
			if err != nil {
				return err
			}
			if existing != nil {
				stats.MessagesSkipped++
				continue
			}
		} else {
			exists, err := s.messages.ExistsAt(thread.ID, entry.CreatedAt, entry.Body)
			if err != nil {
				return err
			}
			if exists {
				stats.MessagesSkipped++
				continue
			}
		}

		message := &models.Message{
			ThreadID:          thread.ID,
			Direction:         models.Direction(entry.Direction),
			Body:              entry.Body,
			Media:             entry.Media,
			Status:            models.MessageStatus(entry.Status),
			ProviderMessageID: entry.ProviderMessageID,
			TemplateKind:      entry.TemplateKind,
			TemplateKey:       entry.TemplateKey,
			CreatedAt:         entry.CreatedAt,
		}
		if entry.Direction == string(models.DirectionInbound) {
			contactID := thread.ContactID
			message.ContactID = &contactID
		} else {
			message.UserID = entry.UserID
		}

		if err := s.messages.Create(message); err != nil {
			if err == db.ErrDuplicateMessage {
				stats.MessagesSkipped++
				continue
			}
			return err
		}
		stats.MessagesCreated++
	}
	return nil
}
