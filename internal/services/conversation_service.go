package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"whatsapp-hub/internal/db"
	"whatsapp-hub/internal/gateway"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/permissions"
	"whatsapp-hub/internal/ratelimit"
	"whatsapp-hub/pkg/logger"
	"whatsapp-hub/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// scheduledForLayouts are the accepted local date-time formats for a
// scheduled queue move.
var scheduledForLayouts = []string{"2006-01-02T15:04", "2006-01-02 15:04"}

// QueueUpdateRequest carries one queue move.
type QueueUpdateRequest struct {
	Queue             string  `json:"queue" binding:"required"`
	ScheduledFor      string  `json:"scheduled_for,omitempty"`
	PartnerID         *int64  `json:"partner_id,omitempty"`
	ResponsibleUserID *int64  `json:"responsible_user_id,omitempty"`
	IntakeSummary     *string `json:"intake_summary,omitempty"`
}

// ThreadMutationResult is returned by every queue state transition: the
// updated thread, its card projection and the recomputed queue summary.
type ThreadMutationResult struct {
	Thread  *models.Thread       `json:"thread"`
	Card    *models.ThreadCard   `json:"card"`
	Summary map[models.Queue]int `json:"summary"`
}

// ConversationService owns the thread lifecycle: queue membership,
// assignment, status, and outbound sends.
type ConversationService struct {
	threads  db.ThreadRepository
	messages db.MessageRepository
	contacts db.ContactRepository
	lines    db.LineRepository
	registry *gateway.Registry
	limiter  *ratelimit.Limiter
	resolver *permissions.Resolver

	sendTimeout time.Duration
	mediaDir    string
}

// NewConversationService creates a new ConversationService
func NewConversationService(
	threads db.ThreadRepository,
	messages db.MessageRepository,
	contacts db.ContactRepository,
	lines db.LineRepository,
	registry *gateway.Registry,
	limiter *ratelimit.Limiter,
	resolver *permissions.Resolver,
	sendTimeout time.Duration,
	mediaDir string,
) *ConversationService {
	if sendTimeout <= 0 {
		sendTimeout = 15 * time.Second
	}
	return &ConversationService{
		threads:     threads,
		messages:    messages,
		contacts:    contacts,
		lines:       lines,
		registry:    registry,
		limiter:     limiter,
		resolver:    resolver,
		sendTimeout: sendTimeout,
		mediaDir:    mediaDir,
	}
}

func (s *ConversationService) resolve(identity models.Identity) (*models.Permission, error) {
	return s.resolver.Resolve(identity)
}

func (s *ConversationService) loadThread(threadID int64) (*models.Thread, error) {
	thread, err := s.threads.GetByID(threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, fmt.Errorf("thread %d: %w", threadID, ErrNotFound)
	}
	return thread, nil
}

// UpdateQueue moves a thread into a queue. The move is atomic: a
// validation failure leaves the previous state untouched.
func (s *ConversationService) UpdateQueue(identity models.Identity, threadID int64, req *QueueUpdateRequest) (*ThreadMutationResult, error) {
	perm, err := s.resolve(identity)
	if err != nil {
		return nil, err
	}

	target, ok := models.ParseQueue(req.Queue)
	if !ok {
		return nil, newValidationError("queue", fmt.Sprintf("unknown queue %q", req.Queue))
	}
	if !perm.PanelVisible(target) && !identity.Admin {
		return nil, &PermissionError{UserID: identity.UserID, Action: "move thread", Reason: fmt.Sprintf("queue %s is out of scope", target)}
	}

	thread, err := s.loadThread(threadID)
	if err != nil {
		return nil, err
	}

	// Reminder and scheduled threads only leave through arrival, except
	// that any thread may always be completed.
	if (thread.Queue == models.QueueReminder || thread.Queue == models.QueueScheduled) &&
		target != thread.Queue && target != models.QueueArrival && target != models.QueueCompleted {
		return nil, newValidationError("queue", fmt.Sprintf("a %s thread may only return to arrival", thread.Queue))
	}

	thread.Queue = target

	switch target {
	case models.QueueScheduled:
		if req.ScheduledFor == "" {
			return nil, newValidationError("scheduled_for", "required when moving to scheduled")
		}
		when, parseErr := parseScheduledFor(req.ScheduledFor)
		if parseErr != nil {
			return nil, parseErr
		}
		thread.ScheduledFor = &when
		thread.Status = models.StatusWaiting
	case models.QueueArrival:
		thread.ScheduledFor = nil
		if thread.Status == models.StatusWaiting {
			thread.Status = models.StatusOpen
		}
	case models.QueueCompleted:
		thread.ScheduledFor = nil
		thread.Status = models.StatusClosed
	default:
		thread.ScheduledFor = nil
	}

	// Triage queues release ownership so the thread is claimable again.
	switch target {
	case models.QueueReminder, models.QueuePartner, models.QueueScheduled:
		thread.AssignedUserID = 0
	}

	if target == models.QueuePartner || target == models.QueueAtendimento {
		if req.PartnerID != nil {
			thread.PartnerID = req.PartnerID
		}
		if req.ResponsibleUserID != nil {
			thread.ResponsibleUserID = req.ResponsibleUserID
		}
	} else {
		thread.PartnerID = req.PartnerID
		thread.ResponsibleUserID = req.ResponsibleUserID
	}
	if req.IntakeSummary != nil {
		thread.IntakeSummary = *req.IntakeSummary
	}

	if err := s.threads.SaveQueueState(thread); err != nil {
		return nil, err
	}

	logger.Info("thread queue updated",
		zap.Int64("thread_id", thread.ID),
		zap.String("queue", string(target)),
		zap.Int64("user_id", identity.UserID))

	return s.mutationResult(thread)
}

// AssignThread sets thread ownership as a compare-and-set. A non-admin
// may take an unowned thread, keep their own, or release it; redirecting
// a thread held by another agent fails with a ConflictError naming the
// owner.
func (s *ConversationService) AssignThread(identity models.Identity, threadID, targetUserID int64) (*ThreadMutationResult, error) {
	if _, err := s.resolve(identity); err != nil {
		return nil, err
	}

	if !identity.Admin && targetUserID != 0 && targetUserID != identity.UserID {
		return nil, &PermissionError{UserID: identity.UserID, Action: "assign thread", Reason: "only admins assign threads to other agents"}
	}

	thread, err := s.loadThread(threadID)
	if err != nil {
		return nil, err
	}

	applied, err := s.threads.Assign(threadID, targetUserID, identity.UserID, identity.Admin)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Reload for the current owner; the guarded update lost the race
		// or the thread was already foreign-owned.
		current, loadErr := s.loadThread(threadID)
		if loadErr != nil {
			return nil, loadErr
		}
		return nil, &ConflictError{
			Reason:  fmt.Sprintf("thread %d is already assigned to user %d", threadID, current.AssignedUserID),
			OwnerID: current.AssignedUserID,
		}
	}

	thread.AssignedUserID = targetUserID
	logger.Info("thread assigned",
		zap.Int64("thread_id", threadID),
		zap.Int64("assigned_to", targetUserID),
		zap.Int64("user_id", identity.UserID))

	return s.mutationResult(thread)
}

// UpdateThreadStatus changes the conversational status independent of
// queue membership.
func (s *ConversationService) UpdateThreadStatus(identity models.Identity, threadID int64, statusRaw string) (*ThreadMutationResult, error) {
	if _, err := s.resolve(identity); err != nil {
		return nil, err
	}

	status, ok := models.ParseThreadStatus(statusRaw)
	if !ok {
		return nil, newValidationError("status", fmt.Sprintf("unknown status %q", statusRaw))
	}

	thread, err := s.loadThread(threadID)
	if err != nil {
		return nil, err
	}

	if err := s.threads.UpdateStatus(threadID, status); err != nil {
		return nil, err
	}
	thread.Status = status

	return s.mutationResult(thread)
}

// Reopen brings a completed thread back, landing in arrival.
func (s *ConversationService) Reopen(identity models.Identity, threadID int64) (*ThreadMutationResult, error) {
	if _, err := s.resolve(identity); err != nil {
		return nil, err
	}

	thread, err := s.loadThread(threadID)
	if err != nil {
		return nil, err
	}
	if thread.Queue != models.QueueCompleted {
		return nil, newValidationError("queue", "only completed threads can be reopened")
	}

	thread.Queue = models.QueueArrival
	thread.Status = models.StatusOpen
	thread.AssignedUserID = 0
	if err := s.threads.SaveQueueState(thread); err != nil {
		return nil, err
	}

	logger.Info("thread reopened", zap.Int64("thread_id", threadID), zap.Int64("user_id", identity.UserID))
	return s.mutationResult(thread)
}

// SendRequest is one outbound send.
type SendRequest struct {
	Text         string
	Media        *gateway.OutboundMedia
	TemplateKind string
	TemplateKey  string
}

// SendMessage dispatches an outbound message on the thread's line. The
// rate limiter is consulted first; a gateway failure marks the message
// failed and is surfaced as a GatewayError, never retried here.
func (s *ConversationService) SendMessage(ctx context.Context, identity models.Identity, threadID int64, req *SendRequest) (*models.Message, error) {
	if _, err := s.resolve(identity); err != nil {
		return nil, err
	}
	return s.deliver(ctx, identity, threadID, req)
}

// storeMedia writes the uploaded binary under the media directory so
// history keeps the attachment after dispatch.
func (s *ConversationService) storeMedia(media *gateway.OutboundMedia) (string, error) {
	if err := os.MkdirAll(s.mediaDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to prepare media directory: %w", err)
	}
	name := uuid.New().String() + strings.ToLower(filepath.Ext(media.Filename))
	path := filepath.Join(s.mediaDir, name)
	if err := os.WriteFile(path, media.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to store media: %w", err)
	}
	return path, nil
}

// deliver runs the send pipeline for an already-authorized caller.
func (s *ConversationService) deliver(ctx context.Context, identity models.Identity, threadID int64, req *SendRequest) (*models.Message, error) {
	if req.Text == "" && req.Media == nil {
		return nil, newValidationError("message", "text or media is required")
	}
	if (req.TemplateKind == "") != (req.TemplateKey == "") {
		return nil, newValidationError("template", "template_kind and template_key go together")
	}

	thread, err := s.loadThread(threadID)
	if err != nil {
		return nil, err
	}

	line, err := s.lines.GetByID(thread.LineID)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, fmt.Errorf("line %d: %w", thread.LineID, ErrNotFound)
	}

	adapter, err := s.registry.ForLine(line)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Allow(line); err != nil {
		return nil, err
	}

	message := models.NewOutboundMessage(thread.ID, identity.UserID, req.Text)
	message.TemplateKind = req.TemplateKind
	message.TemplateKey = req.TemplateKey
	if req.Media != nil {
		message.Media = &models.Media{Mime: req.Media.Mime, Filename: req.Media.Filename}
		if s.mediaDir != "" && len(req.Media.Data) > 0 {
			path, storeErr := s.storeMedia(req.Media)
			if storeErr != nil {
				return nil, storeErr
			}
			message.Media.Path = path
		}
	}
	if err := s.messages.Create(message); err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	to := destination(thread)
	var result gateway.SendResult
	if req.Media != nil {
		result, err = adapter.SendMedia(sendCtx, to, *req.Media)
	} else {
		result, err = adapter.SendText(sendCtx, to, req.Text)
	}
	if err != nil {
		if statusErr := s.messages.SetStatus(message.ID, models.MessageFailed); statusErr != nil {
			logger.Error("failed to mark message failed", zap.Int64("message_id", message.ID), zap.Error(statusErr))
		}
		message.Status = models.MessageFailed
		logger.Warn("outbound send failed",
			zap.Int64("thread_id", thread.ID),
			zap.Int64("line_id", line.ID),
			zap.Error(err))
		return message, &GatewayError{LineID: line.ID, Err: err}
	}

	message.Status = models.MessageSent
	message.ProviderMessageID = result.ProviderMessageID
	if err := s.messages.SetStatus(message.ID, models.MessageSent); err != nil {
		return nil, err
	}
	if result.ProviderMessageID != "" {
		if err := s.messages.SetProviderMessageID(message.ID, result.ProviderMessageID); err != nil {
			return nil, err
		}
	}
	if err := s.threads.TouchOutbound(thread.ID, message.CreatedAt); err != nil {
		return nil, err
	}

	return message, nil
}

// AddNote appends an internal note. Notes never reach the gateway and
// bypass the rate limiter.
func (s *ConversationService) AddNote(identity models.Identity, threadID int64, body string) (*models.Message, error) {
	if _, err := s.resolve(identity); err != nil {
		return nil, err
	}
	if body == "" {
		return nil, newValidationError("body", "note body is required")
	}

	thread, err := s.loadThread(threadID)
	if err != nil {
		return nil, err
	}

	note := models.NewNote(thread.ID, identity.UserID, body)
	if err := s.messages.Create(note); err != nil {
		return nil, err
	}
	return note, nil
}

// StartThread begins a conversation with a phone number that may have no
// prior thread, then sends the opening message. Gated by
// can_start_thread.
func (s *ConversationService) StartThread(ctx context.Context, identity models.Identity, lineID int64, phone, text string) (*ThreadMutationResult, *models.Message, error) {
	perm, err := s.resolve(identity)
	if err != nil {
		return nil, nil, err
	}
	if !perm.CanStartThread {
		return nil, nil, &PermissionError{UserID: identity.UserID, Action: "start thread", Reason: "can_start_thread not granted"}
	}

	digits := utils.NormalizePhone(phone)
	if digits == "" {
		return nil, nil, newValidationError("phone", "a phone number is required")
	}
	if text == "" {
		return nil, nil, newValidationError("message", "an opening message is required")
	}

	line, err := s.lines.GetByID(lineID)
	if err != nil {
		return nil, nil, err
	}
	if line == nil {
		return nil, nil, fmt.Errorf("line %d: %w", lineID, ErrNotFound)
	}

	contact, err := s.contacts.UpsertByPhone(digits, "", "")
	if err != nil {
		return nil, nil, err
	}

	channelID := digits
	if line.Provider == models.ProviderAlt {
		channelID = gateway.EncodeAltChannelID(line.AltInstance, digits)
	}

	thread, _, err := s.threads.UpsertByChannel(line.ID, contact.ID, channelID)
	if err != nil {
		return nil, nil, err
	}

	message, err := s.deliver(ctx, identity, thread.ID, &SendRequest{Text: text})
	if err != nil {
		return nil, message, err
	}

	result, err := s.mutationResult(thread)
	if err != nil {
		return nil, message, err
	}
	return result, message, nil
}

// MarkRead clears the unread counter for an open panel.
func (s *ConversationService) MarkRead(identity models.Identity, threadID int64) error {
	if _, err := s.resolve(identity); err != nil {
		return err
	}
	return s.threads.ResetUnread(threadID)
}

// ListQueue returns the visible thread cards for one queue panel,
// optionally filtered by channel. Visibility applies the caller's panel
// and view scope.
func (s *ConversationService) ListQueue(identity models.Identity, queueRaw, channel string, limit, offset int) ([]*models.ThreadCard, error) {
	perm, err := s.resolve(identity)
	if err != nil {
		return nil, err
	}

	queue, ok := models.ParseQueue(queueRaw)
	if !ok {
		return nil, newValidationError("queue", fmt.Sprintf("unknown queue %q", queueRaw))
	}
	if !perm.PanelVisible(queue) {
		return nil, &PermissionError{UserID: identity.UserID, Action: "list queue", Reason: fmt.Sprintf("queue %s is out of scope", queue)}
	}
	if queue == models.QueueCompleted && !perm.CanViewCompleted {
		return nil, &PermissionError{UserID: identity.UserID, Action: "list queue", Reason: "can_view_completed not granted"}
	}

	if channel != "" {
		normalized, ok := gateway.NormalizeChannel(channel)
		if !ok {
			return nil, newValidationError("channel", fmt.Sprintf("unknown channel %q", channel))
		}
		channel = normalized
	}

	threads, err := s.threads.ListByQueue(queue, limit, offset)
	if err != nil {
		return nil, err
	}

	var cards []*models.ThreadCard
	for _, thread := range threads {
		if !perm.CanViewThread(thread.AssignedUserID) {
			continue
		}
		if channel != "" && !gateway.MatchesChannel(thread.ChannelThreadID, channel) {
			continue
		}
		card, err := s.buildCard(thread)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, nil
}

// Messages returns the thread history, oldest first.
func (s *ConversationService) Messages(identity models.Identity, threadID int64, limit, offset int) ([]*models.Message, error) {
	perm, err := s.resolve(identity)
	if err != nil {
		return nil, err
	}

	thread, err := s.loadThread(threadID)
	if err != nil {
		return nil, err
	}
	if !perm.CanViewThread(thread.AssignedUserID) {
		return nil, &PermissionError{UserID: identity.UserID, Action: "view thread", Reason: "thread is outside the caller's view scope"}
	}

	return s.messages.ListByThread(threadID, limit, offset)
}

// QueueSummary returns per-queue thread counts for panel badges.
func (s *ConversationService) QueueSummary() (map[models.Queue]int, error) {
	return s.threads.QueueCounts()
}

func (s *ConversationService) mutationResult(thread *models.Thread) (*ThreadMutationResult, error) {
	card, err := s.buildCard(thread)
	if err != nil {
		return nil, err
	}
	summary, err := s.threads.QueueCounts()
	if err != nil {
		return nil, err
	}
	return &ThreadMutationResult{Thread: thread, Card: card, Summary: summary}, nil
}

func (s *ConversationService) buildCard(thread *models.Thread) (*models.ThreadCard, error) {
	preview, err := s.messages.LastPreview(thread.ID)
	if err != nil {
		return nil, err
	}

	card := &models.ThreadCard{
		ID:                 thread.ID,
		Queue:              thread.Queue,
		Status:             string(thread.Status),
		ContactName:        thread.ContactName,
		ContactPhone:       thread.ContactPhone,
		ContactPhoneFmt:    utils.FormatPhone(thread.ContactPhone),
		LastMessagePreview: preview,
		UnreadCount:        thread.UnreadCount,
		LineID:             thread.LineID,
		LineLabel:          thread.LineLabel,
		LineProvider:       thread.LineProvider,
		ScheduledFor:       thread.ScheduledFor,
		AssignedUserID:     thread.AssignedUserID,
	}
	return card, nil
}

// destination extracts the gateway recipient from the thread's channel
// identity. Alt threads carry the phone inside the composite token.
func destination(thread *models.Thread) string {
	if _, remote, ok := gateway.DecodeAltChannelID(thread.ChannelThreadID); ok {
		return remote
	}
	return thread.ChannelThreadID
}

func parseScheduledFor(raw string) (int64, error) {
	for _, layout := range scheduledForLayouts {
		if when, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return when.Unix(), nil
		}
	}
	return 0, newValidationError("scheduled_for", fmt.Sprintf("unparseable date-time %q", raw))
}
