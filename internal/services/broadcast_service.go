package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-hub/internal/db"
	"whatsapp-hub/internal/gateway"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/permissions"
	"whatsapp-hub/internal/ratelimit"
	"whatsapp-hub/pkg/logger"

	"go.uber.org/zap"
)

// JobPublisher hands a broadcast off to the background dispatcher.
type JobPublisher interface {
	PublishBroadcast(broadcastID int64) error
}

// BroadcastResult is the dispatch response: final stats, the persisted
// record and the recent history for the admin panel.
type BroadcastResult struct {
	Stats     models.BroadcastStats `json:"stats"`
	Broadcast *models.Broadcast     `json:"broadcast"`
	Recent    []*models.Broadcast   `json:"recent"`
}

// BroadcastService fans paced sends out to threads selected by queue.
type BroadcastService struct {
	broadcasts db.BroadcastRepository
	threads    db.ThreadRepository
	messages   db.MessageRepository
	lines      db.LineRepository
	registry   *gateway.Registry
	limiter    *ratelimit.Limiter
	resolver   *permissions.Resolver
	publisher  JobPublisher

	sendTimeout time.Duration
}

// NewBroadcastService creates a new BroadcastService. The publisher is
// optional; without one, Dispatch runs inline.
func NewBroadcastService(
	broadcasts db.BroadcastRepository,
	threads db.ThreadRepository,
	messages db.MessageRepository,
	lines db.LineRepository,
	registry *gateway.Registry,
	limiter *ratelimit.Limiter,
	resolver *permissions.Resolver,
	publisher JobPublisher,
	sendTimeout time.Duration,
) *BroadcastService {
	if sendTimeout <= 0 {
		sendTimeout = 15 * time.Second
	}
	return &BroadcastService{
		broadcasts:  broadcasts,
		threads:     threads,
		messages:    messages,
		lines:       lines,
		registry:    registry,
		limiter:     limiter,
		resolver:    resolver,
		publisher:   publisher,
		sendTimeout: sendTimeout,
	}
}

// Dispatch validates, persists and runs a broadcast. Admin only. With a
// publisher configured the run happens in the background and the
// returned stats are zero until the worker finishes.
func (s *BroadcastService) Dispatch(ctx context.Context, identity models.Identity, req *models.BroadcastRequest) (*BroadcastResult, error) {
	if _, err := s.resolver.Resolve(identity); err != nil {
		return nil, err
	}
	if !identity.Admin {
		return nil, &PermissionError{UserID: identity.UserID, Action: "dispatch broadcast", Reason: "admin only"}
	}

	queues, err := parseQueues(req.Queues)
	if err != nil {
		return nil, err
	}

	broadcast := models.NewBroadcast(req.Title, req.Message, queues, req.Limit, identity.UserID)
	broadcast.TemplateKind = req.TemplateKind
	broadcast.TemplateKey = req.TemplateKey
	if err := s.broadcasts.Create(broadcast); err != nil {
		return nil, err
	}

	if s.publisher != nil {
		if err := s.publisher.PublishBroadcast(broadcast.ID); err != nil {
			// Fall through to the inline path rather than losing the run.
			logger.Warn("broadcast publish failed, running inline",
				zap.Int64("broadcast_id", broadcast.ID), zap.Error(err))
		} else {
			return s.result(broadcast)
		}
	}

	if err := s.Process(ctx, broadcast.ID); err != nil {
		return nil, err
	}

	final, err := s.broadcasts.GetByID(broadcast.ID)
	if err != nil {
		return nil, err
	}
	return s.result(final)
}

// Process executes one broadcast run. Progress commits per item; a crash
// mid-run leaves partial, consistent state. Context cancellation stops
// between items.
func (s *BroadcastService) Process(ctx context.Context, broadcastID int64) error {
	broadcast, err := s.broadcasts.GetByID(broadcastID)
	if err != nil {
		return err
	}
	if broadcast == nil {
		return fmt.Errorf("broadcast %d: %w", broadcastID, ErrNotFound)
	}

	broadcast.Status = models.BroadcastRunning
	if err := s.broadcasts.Update(broadcast); err != nil {
		return err
	}

	candidates, err := s.threads.ListForBroadcast(broadcast.Queues, broadcast.Limit)
	if err != nil {
		return s.fail(broadcast, err)
	}

	stats := models.BroadcastStats{}
	exhaustedLines := make(map[int64]bool)

	for _, thread := range candidates {
		select {
		case <-ctx.Done():
			broadcast.LastError = ctx.Err().Error()
			return s.finish(broadcast, stats)
		default:
		}

		if exhaustedLines[thread.LineID] {
			stats.LimitSkipped++
			continue
		}

		stats.Attempted++
		if err := s.sendOne(ctx, broadcast, thread); err != nil {
			var limitErr *ratelimit.LimitError
			if errors.As(err, &limitErr) {
				// The line's budget is spent for this run; skip its
				// remaining threads instead of hammering the limiter.
				exhaustedLines[thread.LineID] = true
				stats.Attempted--
				stats.LimitSkipped++
				continue
			}
			stats.Failed++
			broadcast.LastError = err.Error()
			logger.Warn("broadcast send failed",
				zap.Int64("broadcast_id", broadcast.ID),
				zap.Int64("thread_id", thread.ID),
				zap.Error(err))
			continue
		}
		stats.Sent++
	}

	return s.finish(broadcast, stats)
}

// ProcessPending runs queued broadcasts, used by the background worker
// entry point.
func (s *BroadcastService) ProcessPending(ctx context.Context, limit int) (int, error) {
	pending, err := s.broadcasts.ListPending()
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, broadcast := range pending {
		if limit > 0 && ran >= limit {
			break
		}
		if err := s.Process(ctx, broadcast.ID); err != nil {
			return ran, err
		}
		ran++
	}
	return ran, nil
}

// Recent returns the latest broadcast records.
func (s *BroadcastService) Recent(limit int) ([]*models.Broadcast, error) {
	return s.broadcasts.ListRecent(limit)
}

func (s *BroadcastService) sendOne(ctx context.Context, broadcast *models.Broadcast, thread *models.Thread) error {
	line, err := s.lines.GetByID(thread.LineID)
	if err != nil {
		return err
	}
	if line == nil {
		return fmt.Errorf("line %d: %w", thread.LineID, ErrNotFound)
	}

	adapter, err := s.registry.ForLine(line)
	if err != nil {
		return err
	}

	if err := s.limiter.Allow(line); err != nil {
		return err
	}

	message := models.NewOutboundMessage(thread.ID, broadcast.CreatedBy, broadcast.Message)
	message.TemplateKind = broadcast.TemplateKind
	message.TemplateKey = broadcast.TemplateKey
	if err := s.messages.Create(message); err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	result, err := adapter.SendText(sendCtx, destination(thread), broadcast.Message)
	if err != nil {
		if statusErr := s.messages.SetStatus(message.ID, models.MessageFailed); statusErr != nil {
			logger.Error("failed to mark broadcast message failed",
				zap.Int64("message_id", message.ID), zap.Error(statusErr))
		}
		return &GatewayError{LineID: line.ID, Err: err}
	}

	if err := s.messages.SetStatus(message.ID, models.MessageSent); err != nil {
		return err
	}
	if result.ProviderMessageID != "" {
		if err := s.messages.SetProviderMessageID(message.ID, result.ProviderMessageID); err != nil {
			return err
		}
	}
	return s.threads.TouchOutbound(thread.ID, message.CreatedAt)
}

func (s *BroadcastService) finish(broadcast *models.Broadcast, stats models.BroadcastStats) error {
	broadcast.Stats = stats
	broadcast.Status = models.StatusFromStats(stats)
	now := time.Now().Unix()
	broadcast.CompletedAt = &now

	if err := s.broadcasts.Update(broadcast); err != nil {
		return err
	}

	logger.Info("broadcast finished",
		zap.Int64("broadcast_id", broadcast.ID),
		zap.String("status", broadcast.Status),
		zap.Int("attempted", stats.Attempted),
		zap.Int("sent", stats.Sent),
		zap.Int("failed", stats.Failed),
		zap.Int("limit_skipped", stats.LimitSkipped))
	return nil
}

func (s *BroadcastService) fail(broadcast *models.Broadcast, cause error) error {
	broadcast.Status = models.BroadcastFailed
	broadcast.LastError = cause.Error()
	now := time.Now().Unix()
	broadcast.CompletedAt = &now
	if err := s.broadcasts.Update(broadcast); err != nil {
		logger.Error("failed to persist broadcast failure",
			zap.Int64("broadcast_id", broadcast.ID), zap.Error(err))
	}
	return cause
}

func (s *BroadcastService) result(broadcast *models.Broadcast) (*BroadcastResult, error) {
	recent, err := s.broadcasts.ListRecent(10)
	if err != nil {
		return nil, err
	}
	return &BroadcastResult{Stats: broadcast.Stats, Broadcast: broadcast, Recent: recent}, nil
}

func parseQueues(raw []string) ([]models.Queue, error) {
	if len(raw) == 0 {
		return nil, newValidationError("queues", "at least one target queue is required")
	}
	queues := make([]models.Queue, 0, len(raw))
	for _, name := range raw {
		queue, ok := models.ParseQueue(name)
		if !ok {
			return nil, newValidationError("queues", fmt.Sprintf("unknown queue %q", name))
		}
		queues = append(queues, queue)
	}
	return queues, nil
}
