package models

// ViewScope controls whose threads a user may see.
type ViewScope string

const (
	ViewScopeSelf ViewScope = "self"
	ViewScopeTeam ViewScope = "team"
	ViewScopeAll  ViewScope = "all"
)

// ParseViewScope normalizes a raw scope value, defaulting to self.
func ParseViewScope(raw string) ViewScope {
	switch ViewScope(raw) {
	case ViewScopeTeam:
		return ViewScopeTeam
	case ViewScopeAll:
		return ViewScopeAll
	}
	return ViewScopeSelf
}

// Permission is the per-user access record for the conversation panels.
// When a user has no stored record, a role default applies.
type Permission struct {
	UserID              int64     `json:"user_id"`
	Level               int       `json:"level"`
	InboxAccess         string    `json:"inbox_access"`
	ViewScope           ViewScope `json:"view_scope"`
	ViewScopeUsers      []int64   `json:"view_scope_users,omitempty"`
	PanelScope          []Queue   `json:"panel_scope"`
	CanForward          bool      `json:"can_forward"`
	CanStartThread      bool      `json:"can_start_thread"`
	CanViewCompleted    bool      `json:"can_view_completed"`
	CanGrantPermissions bool      `json:"can_grant_permissions"`
}

// DefaultPermission returns the permission preset for a role. Admins get
// level 1 with every panel and capability; everyone else gets level 3
// scoped to their own threads.
func DefaultPermission(userID int64, admin bool) *Permission {
	if admin {
		return &Permission{
			UserID:              userID,
			Level:               1,
			InboxAccess:         "full",
			ViewScope:           ViewScopeAll,
			PanelScope:          AllQueues(),
			CanForward:          true,
			CanStartThread:      true,
			CanViewCompleted:    true,
			CanGrantPermissions: true,
		}
	}
	return &Permission{
		UserID:      userID,
		Level:       3,
		InboxAccess: "standard",
		ViewScope:   ViewScopeSelf,
		PanelScope: []Queue{
			QueueArrival,
			QueueAtendimento,
			QueueGroup,
		},
	}
}

// PanelVisible reports whether the queue's panel is in scope.
func (p *Permission) PanelVisible(queue Queue) bool {
	for _, q := range p.PanelScope {
		if q == queue {
			return true
		}
	}
	return false
}

// CanViewThread applies the view scope to one thread's owner.
func (p *Permission) CanViewThread(ownerID int64) bool {
	switch p.ViewScope {
	case ViewScopeAll:
		return true
	case ViewScopeTeam:
		if ownerID == 0 || ownerID == p.UserID {
			return true
		}
		for _, id := range p.ViewScopeUsers {
			if id == ownerID {
				return true
			}
		}
		return false
	default:
		return ownerID == 0 || ownerID == p.UserID
	}
}

// UpdatePermissionEntry is one row of an admin permission update.
type UpdatePermissionEntry struct {
	UserID              int64    `json:"user_id" binding:"required"`
	Level               int      `json:"level"`
	InboxAccess         string   `json:"inbox_access"`
	ViewScope           string   `json:"view_scope"`
	ViewScopeUsers      []int64  `json:"view_scope_users"`
	PanelScope          []string `json:"panel_scope"`
	CanForward          bool     `json:"can_forward"`
	CanStartThread      bool     `json:"can_start_thread"`
	CanViewCompleted    bool     `json:"can_view_completed"`
	CanGrantPermissions bool     `json:"can_grant_permissions"`
}
