package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"whatsapp-hub/internal/models"
)

// PermissionRepository defines the interface for permission data access
type PermissionRepository interface {
	GetPermission(userID int64) (*models.Permission, error)
	Upsert(permission *models.Permission) error
	Delete(userID int64) error
	List() ([]*models.Permission, error)
}

type permissionRepository struct {
	db *sql.DB
}

// NewPermissionRepository creates a new PermissionRepository
func NewPermissionRepository(db *sql.DB) PermissionRepository {
	return &permissionRepository{db: db}
}

const permissionColumns = `user_id, level, inbox_access, view_scope, view_scope_users, panel_scope,
	can_forward, can_start_thread, can_view_completed, can_grant_permissions`

func scanPermission(row interface{ Scan(...any) error }) (*models.Permission, error) {
	permission := &models.Permission{}
	var viewScopeUsers, panelScope string
	err := row.Scan(
		&permission.UserID,
		&permission.Level,
		&permission.InboxAccess,
		&permission.ViewScope,
		&viewScopeUsers,
		&panelScope,
		&permission.CanForward,
		&permission.CanStartThread,
		&permission.CanViewCompleted,
		&permission.CanGrantPermissions,
	)
	if err != nil {
		return nil, err
	}
	if viewScopeUsers != "" {
		if err := json.Unmarshal([]byte(viewScopeUsers), &permission.ViewScopeUsers); err != nil {
			return nil, fmt.Errorf("failed to decode view scope users: %w", err)
		}
	}
	if panelScope != "" {
		if err := json.Unmarshal([]byte(panelScope), &permission.PanelScope); err != nil {
			return nil, fmt.Errorf("failed to decode panel scope: %w", err)
		}
	}
	return permission, nil
}

func (r *permissionRepository) GetPermission(userID int64) (*models.Permission, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("user ID must be positive")
	}

	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE user_id = ?`
	permission, err := scanPermission(r.db.QueryRow(query, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return permission, nil
}

func (r *permissionRepository) Upsert(permission *models.Permission) error {
	if permission == nil {
		return fmt.Errorf("permission cannot be nil")
	}
	if permission.UserID <= 0 {
		return fmt.Errorf("user ID must be positive")
	}

	viewScopeUsers, err := json.Marshal(permission.ViewScopeUsers)
	if err != nil {
		return fmt.Errorf("failed to encode view scope users: %w", err)
	}
	panelScope, err := json.Marshal(permission.PanelScope)
	if err != nil {
		return fmt.Errorf("failed to encode panel scope: %w", err)
	}

	query := `
		INSERT INTO permissions (user_id, level, inbox_access, view_scope, view_scope_users, panel_scope,
			can_forward, can_start_thread, can_view_completed, can_grant_permissions, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			level = excluded.level,
			inbox_access = excluded.inbox_access,
			view_scope = excluded.view_scope,
			view_scope_users = excluded.view_scope_users,
			panel_scope = excluded.panel_scope,
			can_forward = excluded.can_forward,
			can_start_thread = excluded.can_start_thread,
			can_view_completed = excluded.can_view_completed,
			can_grant_permissions = excluded.can_grant_permissions,
			updated_at = excluded.updated_at
	`

	_, err = r.db.Exec(query,
		permission.UserID,
		permission.Level,
		permission.InboxAccess,
		permission.ViewScope,
		string(viewScopeUsers),
		string(panelScope),
		permission.CanForward,
		permission.CanStartThread,
		permission.CanViewCompleted,
		permission.CanGrantPermissions,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert permission: %w", err)
	}
	return nil
}

func (r *permissionRepository) Delete(userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("user ID must be positive")
	}

	_, err := r.db.Exec(`DELETE FROM permissions WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	return nil
}

func (r *permissionRepository) List() ([]*models.Permission, error) {
	rows, err := r.db.Query(`SELECT ` + permissionColumns + ` FROM permissions ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var permissions []*models.Permission
	for rows.Next() {
		permission, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, permission)
	}
	return permissions, rows.Err()
}
