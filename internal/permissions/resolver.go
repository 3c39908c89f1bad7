package permissions

import (
	"fmt"

	"whatsapp-hub/internal/models"
)

// DeniedError is returned when resolution refuses access outright.
type DeniedError struct {
	UserID int64
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied for user %d: %s", e.UserID, e.Reason)
}

// PermissionStore loads per-user permission records.
type PermissionStore interface {
	GetPermission(userID int64) (*models.Permission, error)
}

// SettingsStore loads the global access switches.
type SettingsStore interface {
	GetAccessSettings() (*models.AccessSettings, error)
}

// Resolver computes the effective permission profile for a caller.
// Resolution is layered: AVP block first, then the admin short-circuit,
// then the allow-list, then the user's stored record (or the role
// default when none exists). Any storage failure denies access.
type Resolver struct {
	perms    PermissionStore
	settings SettingsStore
}

func NewResolver(perms PermissionStore, settings SettingsStore) *Resolver {
	return &Resolver{perms: perms, settings: settings}
}

// Resolve returns the caller's effective permission or a DeniedError.
func (r *Resolver) Resolve(id models.Identity) (*models.Permission, error) {
	settings, err := r.settings.GetAccessSettings()
	if err != nil {
		return nil, fmt.Errorf("load access settings: %w", err)
	}
	if settings == nil {
		settings = &models.AccessSettings{}
	}

	if settings.BlockAVPAccess && id.AVP && !id.Admin {
		return nil, &DeniedError{UserID: id.UserID, Reason: "avp access is blocked"}
	}

	if id.Admin {
		return models.DefaultPermission(id.UserID, true), nil
	}

	if !settings.Allows(id.UserID) {
		return nil, &DeniedError{UserID: id.UserID, Reason: "not on the allow list"}
	}

	perm, err := r.perms.GetPermission(id.UserID)
	if err != nil {
		return nil, fmt.Errorf("load permission for user %d: %w", id.UserID, err)
	}
	if perm == nil {
		return models.DefaultPermission(id.UserID, false), nil
	}
	return perm, nil
}
