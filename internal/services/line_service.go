package services

import (
	"fmt"

	"whatsapp-hub/internal/db"
	"whatsapp-hub/internal/gateway"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/permissions"
	"whatsapp-hub/internal/ratelimit"
	"whatsapp-hub/pkg/logger"
	"whatsapp-hub/pkg/utils"

	"go.uber.org/zap"
)

// TokenRefresher is notified after every line change so the webhook
// token list stays current.
type TokenRefresher interface {
	RefreshTokens() error
}

// LineService manages line configuration. All writes are admin-only;
// credentials are encrypted at rest when a key is configured.
type LineService struct {
	lines     db.LineRepository
	registry  *gateway.Registry
	resolver  *permissions.Resolver
	refresher TokenRefresher
	limiter   *ratelimit.Limiter

	credentialKey string
}

// NewLineService creates a new LineService
func NewLineService(lines db.LineRepository, registry *gateway.Registry, resolver *permissions.Resolver, refresher TokenRefresher, limiter *ratelimit.Limiter, credentialKey string) *LineService {
	return &LineService{
		lines:         lines,
		registry:      registry,
		resolver:      resolver,
		refresher:     refresher,
		limiter:       limiter,
		credentialKey: credentialKey,
	}
}

func (s *LineService) requireAdmin(identity models.Identity, action string) error {
	if _, err := s.resolver.Resolve(identity); err != nil {
		return err
	}
	if !identity.Admin {
		return &PermissionError{UserID: identity.UserID, Action: action, Reason: "admin only"}
	}
	return nil
}

// CreateLine registers a new sending identity.
func (s *LineService) CreateLine(identity models.Identity, req *models.CreateLineRequest) (*models.Line, error) {
	if err := s.requireAdmin(identity, "create line"); err != nil {
		return nil, err
	}

	provider := models.Provider(req.Provider)
	if !provider.Valid() {
		return nil, newValidationError("provider", fmt.Sprintf("unknown provider %q", req.Provider))
	}

	line := models.NewLine(req.Label, provider)
	line.DisplayPhone = utils.NormalizePhone(req.DisplayPhone)
	line.VerifyToken = req.VerifyToken
	line.BurstCap = req.BurstCap
	line.HourlyCap = req.HourlyCap
	line.DailyCap = req.DailyCap
	line.IsDefault = req.IsDefault

	if provider == models.ProviderAlt {
		slug := gateway.SanitizeSlug(req.AltInstance)
		if slug == "" {
			return nil, newValidationError("alt_instance", "alt lines require an instance slug")
		}
		line.AltInstance = slug
	}

	credentials, err := s.sealCredentials(req.Credentials)
	if err != nil {
		return nil, err
	}
	line.Credentials = credentials

	if err := s.lines.Create(line); err != nil {
		return nil, err
	}
	s.afterChange(line.ID)

	logger.Info("line created",
		zap.Int64("line_id", line.ID),
		zap.String("provider", string(provider)),
		zap.Int64("user_id", identity.UserID))
	return line, nil
}

// UpdateLine applies the non-nil request fields.
func (s *LineService) UpdateLine(identity models.Identity, id int64, req *models.UpdateLineRequest) (*models.Line, error) {
	if err := s.requireAdmin(identity, "update line"); err != nil {
		return nil, err
	}

	line, err := s.lines.GetByID(id)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, fmt.Errorf("line %d: %w", id, ErrNotFound)
	}

	if req.Label != nil {
		line.Label = *req.Label
	}
	if req.DisplayPhone != nil {
		line.DisplayPhone = utils.NormalizePhone(*req.DisplayPhone)
	}
	if req.Credentials != nil {
		credentials, err := s.sealCredentials(*req.Credentials)
		if err != nil {
			return nil, err
		}
		line.Credentials = credentials
	}
	if req.VerifyToken != nil {
		line.VerifyToken = *req.VerifyToken
	}
	if req.BurstCap != nil {
		line.BurstCap = *req.BurstCap
	}
	if req.HourlyCap != nil {
		line.HourlyCap = *req.HourlyCap
	}
	if req.DailyCap != nil {
		line.DailyCap = *req.DailyCap
	}
	if req.IsDefault != nil {
		line.IsDefault = *req.IsDefault
	}
	if req.Active != nil {
		line.Active = *req.Active
	}

	if err := s.lines.Update(line); err != nil {
		return nil, err
	}
	s.afterChange(line.ID)

	logger.Info("line updated", zap.Int64("line_id", line.ID), zap.Int64("user_id", identity.UserID))
	return line, nil
}

// DeleteLine removes a line configuration.
func (s *LineService) DeleteLine(identity models.Identity, id int64) error {
	if err := s.requireAdmin(identity, "delete line"); err != nil {
		return err
	}

	if err := s.lines.Delete(id); err != nil {
		return err
	}
	s.afterChange(id)

	logger.Info("line deleted", zap.Int64("line_id", id), zap.Int64("user_id", identity.UserID))
	return nil
}

// GetLine loads one line.
func (s *LineService) GetLine(identity models.Identity, id int64) (*models.Line, error) {
	if err := s.requireAdmin(identity, "view line"); err != nil {
		return nil, err
	}

	line, err := s.lines.GetByID(id)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, fmt.Errorf("line %d: %w", id, ErrNotFound)
	}
	s.fillBudget(line)
	return line, nil
}

// fillBudget annotates a capped line with its unspent send budget.
func (s *LineService) fillBudget(line *models.Line) {
	if s.limiter == nil {
		return
	}
	budget, err := s.limiter.Budget(line)
	if err != nil {
		logger.Warn("failed to compute line budget", zap.Int64("line_id", line.ID), zap.Error(err))
		return
	}
	if budget >= 0 {
		line.RemainingBudget = &budget
	}
}

// ListLines returns every configured line.
func (s *LineService) ListLines(identity models.Identity) ([]*models.Line, error) {
	if err := s.requireAdmin(identity, "list lines"); err != nil {
		return nil, err
	}
	lines, err := s.lines.List(false)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		s.fillBudget(line)
	}
	return lines, nil
}

func (s *LineService) sealCredentials(raw string) (string, error) {
	if raw == "" || s.credentialKey == "" {
		return raw, nil
	}
	sealed, err := utils.EncryptCredentials(raw, s.credentialKey)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	return sealed, nil
}

// afterChange drops the cached adapter and refreshes the webhook token
// list.
func (s *LineService) afterChange(lineID int64) {
	s.registry.Invalidate(lineID)
	if s.refresher != nil {
		if err := s.refresher.RefreshTokens(); err != nil {
			logger.Error("failed to refresh webhook tokens", zap.Error(err))
		}
	}
}
