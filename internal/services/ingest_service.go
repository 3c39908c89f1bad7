package services

import (
	"crypto/subtle"
	"fmt"
	"strconv"
	"sync"
	"time"

	"whatsapp-hub/internal/db"
	"whatsapp-hub/internal/gateway"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/pkg/logger"
	"whatsapp-hub/pkg/utils"

	"go.uber.org/zap"
)

// WebhookPayload is the provider batch shape: entries wrap changes, each
// change carries inbound messages and delivery statuses.
type WebhookPayload struct {
	Entry []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

type WebhookValue struct {
	Metadata WebhookMetadata  `json:"metadata"`
	Contacts []WebhookContact `json:"contacts"`
	Messages []WebhookMessage `json:"messages"`
	Statuses []WebhookStatus  `json:"statuses"`
}

type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type WebhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
	Image *WebhookMedia `json:"image,omitempty"`
	Audio *WebhookMedia `json:"audio,omitempty"`
	Document *WebhookMedia `json:"document,omitempty"`
}

type WebhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type WebhookStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// IngestService folds inbound provider payloads into thread and message
// state. Processing is idempotent and fire-to-completion per batch.
type IngestService struct {
	lines    db.LineRepository
	contacts db.ContactRepository
	threads  db.ThreadRepository
	messages db.MessageRepository
	registry *gateway.Registry

	mu     sync.RWMutex
	tokens []db.LineToken
}

// NewIngestService creates a new IngestService
func NewIngestService(
	lines db.LineRepository,
	contacts db.ContactRepository,
	threads db.ThreadRepository,
	messages db.MessageRepository,
	registry *gateway.Registry,
) *IngestService {
	return &IngestService{
		lines:    lines,
		contacts: contacts,
		threads:  threads,
		messages: messages,
		registry: registry,
	}
}

// RefreshTokens reloads the (line, verify token) list. Called at startup
// and after every line change.
func (s *IngestService) RefreshTokens() error {
	tokens, err := s.lines.VerifyTokens()
	if err != nil {
		return fmt.Errorf("refresh verify tokens: %w", err)
	}

	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
	return nil
}

// VerifyChallenge answers the provider's subscription handshake. The
// token is compared constant-time against every configured line's verify
// token; a match returns the challenge to echo.
func (s *IngestService) VerifyChallenge(mode, token, challenge string) (string, error) {
	if mode != "subscribe" {
		return "", newValidationError("hub_mode", "expected subscribe")
	}
	if _, ok := s.matchToken(token); !ok {
		return "", &PermissionError{Action: "verify webhook", Reason: "verify token does not match any line"}
	}
	return challenge, nil
}

func (s *IngestService) matchToken(token string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := int64(0)
	found := false
	// Compare against every token so timing does not reveal which line
	// matched.
	for _, lt := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(lt.Token), []byte(token)) == 1 {
			matched = lt.LineID
			found = true
		}
	}
	return matched, found
}

// Ingest folds one webhook batch for a line. Returns the number of
// events folded; replays and blocked senders fold to zero without error.
func (s *IngestService) Ingest(lineID int64, payload *WebhookPayload) (int, error) {
	if payload == nil || len(payload.Entry) == 0 {
		return 0, newValidationError("payload", "empty webhook batch")
	}

	line, err := s.lines.GetByID(lineID)
	if err != nil {
		return 0, err
	}
	if line == nil {
		return 0, fmt.Errorf("line %d: %w", lineID, ErrNotFound)
	}

	processed := 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			profiles := profileNames(change.Value.Contacts)

			for _, msg := range change.Value.Messages {
				event := gateway.InboundEvent{
					LineID:            line.ID,
					From:              msg.From,
					Body:              msg.Text.Body,
					ProviderMessageID: msg.ID,
					ProfileName:       profiles[msg.From],
					Timestamp:         parseEventTimestamp(msg.Timestamp),
				}
				folded, err := s.FoldEvent(line, event)
				if err != nil {
					return processed, err
				}
				if folded {
					processed++
				}
			}

			for _, status := range change.Value.Statuses {
				applied, err := s.applyReceipt(status)
				if err != nil {
					return processed, err
				}
				if applied {
					processed++
				}
			}
		}
	}

	return processed, nil
}

// FoldEvent applies one inbound event: contact upsert, thread upsert by
// channel identity, message append. Duplicate provider message ids fold
// to false. Blocked senders are dropped.
func (s *IngestService) FoldEvent(line *models.Line, event gateway.InboundEvent) (bool, error) {
	digits := utils.NormalizePhone(event.From)
	if digits == "" {
		return false, newValidationError("from", "sender phone is required")
	}

	existing, err := s.contacts.GetByPhone(digits)
	if err != nil {
		return false, err
	}
	if existing != nil && existing.Blocked {
		logger.Info("inbound from blocked number dropped",
			zap.Int64("line_id", line.ID),
			zap.String("phone", digits))
		return false, nil
	}

	contact, err := s.contacts.UpsertByPhone(digits, event.ProfileName, event.ProfilePhoto)
	if err != nil {
		return false, err
	}

	channelID := s.channelIdentity(line, event, digits)
	thread, created, err := s.threads.UpsertByChannel(line.ID, contact.ID, channelID)
	if err != nil {
		return false, err
	}

	if created && event.GroupKey != "" {
		thread.Queue = models.QueueGroup
		if err := s.threads.SaveQueueState(thread); err != nil {
			return false, err
		}
	}

	message := models.NewInboundMessage(thread.ID, contact.ID, event.Body)
	message.ProviderMessageID = event.ProviderMessageID
	if event.Timestamp > 0 {
		message.CreatedAt = event.Timestamp
	}

	if err := s.messages.Create(message); err != nil {
		if err == db.ErrDuplicateMessage {
			return false, nil
		}
		return false, err
	}

	if err := s.threads.RecordInbound(thread.ID, message.CreatedAt, true); err != nil {
		return false, err
	}
	return true, nil
}

// SimulateInbound injects a test message through the sandbox adapter, as
// if the provider had delivered it.
func (s *IngestService) SimulateInbound(lineID int64, from, body, profileName string) (*models.Thread, error) {
	line, err := s.lines.GetByID(lineID)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, fmt.Errorf("line %d: %w", lineID, ErrNotFound)
	}
	if line.Provider != models.ProviderSandbox {
		return nil, newValidationError("line", "inbound simulation requires a sandbox line")
	}

	adapter, err := s.registry.ForLine(line)
	if err != nil {
		return nil, err
	}
	simulator, ok := adapter.(gateway.InboundSimulator)
	if !ok {
		return nil, newValidationError("line", "adapter does not simulate inbound")
	}

	event := simulator.SimulateInbound(from, body, profileName)
	if _, err := s.FoldEvent(line, event); err != nil {
		return nil, err
	}

	digits := utils.NormalizePhone(from)
	return s.threads.GetByChannel(line.ID, s.channelIdentity(line, event, digits))
}

func (s *IngestService) applyReceipt(status WebhookStatus) (bool, error) {
	if status.ID == "" {
		return false, nil
	}

	parsed := models.MessageStatus(status.Status)
	switch parsed {
	case models.MessageSent, models.MessageDelivered, models.MessageRead, models.MessageFailed:
	default:
		logger.Warn("unknown delivery status ignored", zap.String("status", status.Status))
		return false, nil
	}

	return s.messages.ApplyReceipt(status.ID, parsed)
}

// channelIdentity derives the thread's channel id for an inbound event.
// Alt lines use the composite token; meta and sandbox use the raw remote
// identity.
func (s *IngestService) channelIdentity(line *models.Line, event gateway.InboundEvent, digits string) string {
	if event.GroupKey != "" {
		if line.Provider == models.ProviderAlt {
			return gateway.EncodeAltChannelID(line.AltInstance, event.GroupKey)
		}
		return event.GroupKey
	}
	if line.Provider == models.ProviderAlt {
		return gateway.EncodeAltChannelID(line.AltInstance, digits)
	}
	return digits
}

func profileNames(contacts []WebhookContact) map[string]string {
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		if c.WaID != "" && c.Profile.Name != "" {
			names[c.WaID] = c.Profile.Name
		}
	}
	return names
}

func parseEventTimestamp(raw string) int64 {
	if raw == "" {
		return time.Now().Unix()
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ts <= 0 {
		return time.Now().Unix()
	}
	return ts
}
