package models

import "time"

// Contact represents a remote party identified by phone. The ClientID is
// a weak reference into the CRM; nothing here owns or loads that record.
type Contact struct {
	ID           int64    `json:"id"`
	Phone        string   `json:"phone"` // digits-only normalized
	Name         string   `json:"name"`
	Tags         []string `json:"tags,omitempty"`
	ClientID     *int64   `json:"client_id,omitempty"`
	Blocked      bool     `json:"blocked"`
	ProfileName  string   `json:"profile_name,omitempty"`
	ProfilePhoto string   `json:"profile_photo,omitempty"`
	CreatedAt    int64    `json:"created_at"`
	UpdatedAt    int64    `json:"updated_at"`
}

// NewContact creates a Contact with timestamps set.
func NewContact(phone, name string) *Contact {
	now := time.Now().Unix()
	return &Contact{
		Phone:     phone,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DisplayName prefers the explicit name, falling back to the provider
// profile name and finally the phone.
func (c *Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.ProfileName != "" {
		return c.ProfileName
	}
	return c.Phone
}
