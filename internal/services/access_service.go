package services

import (
	"whatsapp-hub/internal/db"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/permissions"
	"whatsapp-hub/pkg/logger"

	"go.uber.org/zap"
)

// AccessService manages permission records, global access switches and
// the blocked numbers list.
type AccessService struct {
	perms    db.PermissionRepository
	settings *db.AccessSettingsStore
	contacts db.ContactRepository
	resolver *permissions.Resolver
}

// NewAccessService creates a new AccessService
func NewAccessService(perms db.PermissionRepository, settings *db.AccessSettingsStore, contacts db.ContactRepository, resolver *permissions.Resolver) *AccessService {
	return &AccessService{
		perms:    perms,
		settings: settings,
		contacts: contacts,
		resolver: resolver,
	}
}

// canGrant allows admins and users holding can_grant_permissions.
func (s *AccessService) canGrant(identity models.Identity) error {
	perm, err := s.resolver.Resolve(identity)
	if err != nil {
		return err
	}
	if !identity.Admin && !perm.CanGrantPermissions {
		return &PermissionError{UserID: identity.UserID, Action: "manage permissions", Reason: "can_grant_permissions not granted"}
	}
	return nil
}

// UpdatePermissions upserts a batch of per-user permission entries.
func (s *AccessService) UpdatePermissions(identity models.Identity, entries []models.UpdatePermissionEntry) error {
	if err := s.canGrant(identity); err != nil {
		return err
	}
	if len(entries) == 0 {
		return newValidationError("entries", "at least one permission entry is required")
	}

	for _, entry := range entries {
		panels := make([]models.Queue, 0, len(entry.PanelScope))
		for _, raw := range entry.PanelScope {
			queue, ok := models.ParseQueue(raw)
			if !ok {
				return newValidationError("panel_scope", "unknown queue "+raw)
			}
			panels = append(panels, queue)
		}

		perm := &models.Permission{
			UserID:              entry.UserID,
			Level:               entry.Level,
			InboxAccess:         entry.InboxAccess,
			ViewScope:           models.ParseViewScope(entry.ViewScope),
			ViewScopeUsers:      entry.ViewScopeUsers,
			PanelScope:          panels,
			CanForward:          entry.CanForward,
			CanStartThread:      entry.CanStartThread,
			CanViewCompleted:    entry.CanViewCompleted,
			CanGrantPermissions: entry.CanGrantPermissions,
		}
		if err := s.perms.Upsert(perm); err != nil {
			return err
		}
	}

	logger.Info("permissions updated",
		zap.Int("entries", len(entries)),
		zap.Int64("user_id", identity.UserID))
	return nil
}

// ListPermissions returns every stored permission record.
func (s *AccessService) ListPermissions(identity models.Identity) ([]*models.Permission, error) {
	if err := s.canGrant(identity); err != nil {
		return nil, err
	}
	return s.perms.List()
}

// GetAccessSettings returns the global access switches. Admin only.
func (s *AccessService) GetAccessSettings(identity models.Identity) (*models.AccessSettings, error) {
	if _, err := s.resolver.Resolve(identity); err != nil {
		return nil, err
	}
	if !identity.Admin {
		return nil, &PermissionError{UserID: identity.UserID, Action: "view access settings", Reason: "admin only"}
	}
	return s.settings.GetAccessSettings()
}

// UpdateAccessSettings replaces the AVP-block flag and allow-list.
func (s *AccessService) UpdateAccessSettings(identity models.Identity, settings *models.AccessSettings) error {
	if _, err := s.resolver.Resolve(identity); err != nil {
		return err
	}
	if !identity.Admin {
		return &PermissionError{UserID: identity.UserID, Action: "update access settings", Reason: "admin only"}
	}
	if settings == nil {
		return newValidationError("settings", "settings body is required")
	}

	if err := s.settings.SaveAccessSettings(settings); err != nil {
		return err
	}

	logger.Info("access settings updated",
		zap.Bool("block_avp", settings.BlockAVPAccess),
		zap.Int("allow_list", len(settings.AllowList)),
		zap.Int64("user_id", identity.UserID))
	return nil
}

// SetContactBlocked toggles ingestion for one contact's number.
func (s *AccessService) SetContactBlocked(identity models.Identity, contactID int64, blocked bool) error {
	if _, err := s.resolver.Resolve(identity); err != nil {
		return err
	}
	if !identity.Admin {
		return &PermissionError{UserID: identity.UserID, Action: "block contact", Reason: "admin only"}
	}

	if err := s.contacts.SetBlocked(contactID, blocked); err != nil {
		return err
	}

	logger.Info("contact block flag changed",
		zap.Int64("contact_id", contactID),
		zap.Bool("blocked", blocked),
		zap.Int64("user_id", identity.UserID))
	return nil
}

// ListBlockedContacts returns every blocked contact.
func (s *AccessService) ListBlockedContacts(identity models.Identity) ([]*models.Contact, error) {
	if _, err := s.resolver.Resolve(identity); err != nil {
		return nil, err
	}
	if !identity.Admin {
		return nil, &PermissionError{UserID: identity.UserID, Action: "list blocked contacts", Reason: "admin only"}
	}
	return s.contacts.ListBlocked()
}
