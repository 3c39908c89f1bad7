package models

import "time"

// Provider identifies which gateway implementation a Line is bound to.
type Provider string

const (
	ProviderMeta    Provider = "meta"
	ProviderAlt     Provider = "alt"
	ProviderSandbox Provider = "sandbox"
)

// Valid reports whether the provider is one of the supported variants.
func (p Provider) Valid() bool {
	switch p {
	case ProviderMeta, ProviderAlt, ProviderSandbox:
		return true
	}
	return false
}

// Line is a configured sending/receiving identity bound to one gateway
// provider. Credentials are stored encrypted and never serialized.
type Line struct {
	ID           int64    `json:"id"`
	Label        string   `json:"label" binding:"required,min=2,max=100"`
	Provider     Provider `json:"provider" binding:"required"`
	AltInstance  string   `json:"alt_instance,omitempty"` // instance slug, alt provider only
	DisplayPhone string   `json:"display_phone"`
	Credentials  string   `json:"-"` // EXCLUDED from JSON - encrypted blob
	VerifyToken  string   `json:"-"` // EXCLUDED from JSON - webhook verify token
	BurstCap     int      `json:"burst_cap"`
	HourlyCap    int      `json:"hourly_cap"`
	DailyCap     int      `json:"daily_cap"`
	IsDefault    bool     `json:"is_default"`
	Active       bool     `json:"active"`
	CreatedAt    int64    `json:"created_at"`
	UpdatedAt    int64    `json:"updated_at"`

	// RemainingBudget is the line's unspent send budget for the current
	// windows, filled on read for capped lines. Not persisted.
	RemainingBudget *int `json:"remaining_budget,omitempty"`
}

// NewLine creates a Line with timestamps set. Caps default to zero
// (unlimited) until configured.
func NewLine(label string, provider Provider) *Line {
	now := time.Now().Unix()
	return &Line{
		Label:     label,
		Provider:  provider,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CreateLineRequest represents the request body for creating a new line
type CreateLineRequest struct {
	Label        string `json:"label" binding:"required,min=2,max=100"`
	Provider     string `json:"provider" binding:"required"`
	AltInstance  string `json:"alt_instance,omitempty"`
	DisplayPhone string `json:"display_phone,omitempty"`
	Credentials  string `json:"credentials,omitempty"`
	VerifyToken  string `json:"verify_token,omitempty"`
	BurstCap     int    `json:"burst_cap,omitempty"`
	HourlyCap    int    `json:"hourly_cap,omitempty"`
	DailyCap     int    `json:"daily_cap,omitempty"`
	IsDefault    bool   `json:"is_default,omitempty"`
}

// UpdateLineRequest represents the request body for updating a line.
// Nil fields are left untouched.
type UpdateLineRequest struct {
	Label        *string `json:"label,omitempty"`
	DisplayPhone *string `json:"display_phone,omitempty"`
	Credentials  *string `json:"credentials,omitempty"`
	VerifyToken  *string `json:"verify_token,omitempty"`
	BurstCap     *int    `json:"burst_cap,omitempty"`
	HourlyCap    *int    `json:"hourly_cap,omitempty"`
	DailyCap     *int    `json:"daily_cap,omitempty"`
	IsDefault    *bool   `json:"is_default,omitempty"`
	Active       *bool   `json:"active,omitempty"`
}
