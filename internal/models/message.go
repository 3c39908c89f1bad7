package models

import "time"

// Direction distinguishes inbound contact messages, outbound agent
// messages, and internal notes that never reach the gateway.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionNote     Direction = "note"
)

// MessageStatus tracks outbound delivery. Inbound messages and notes stay
// at sent.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

// rank orders statuses for receipt folding; -1 means unknown.
func (s MessageStatus) rank() int {
	switch s {
	case MessagePending:
		return 0
	case MessageSent:
		return 1
	case MessageDelivered:
		return 2
	case MessageRead:
		return 3
	case MessageFailed:
		return 4
	}
	return -1
}

// Terminal reports whether the status can no longer be downgraded by a
// delivery receipt.
func (s MessageStatus) Terminal() bool {
	switch s {
	case MessageDelivered, MessageRead, MessageFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether a delivery receipt may move this status
// to next. Receipts only ever advance the rank; replayed or out-of-order
// receipts against a terminal status are ignored, with read reachable
// from delivered.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	if next.rank() < 0 || s.rank() < 0 {
		return false
	}
	if s == MessageFailed || s == MessageRead {
		return false
	}
	return next.rank() > s.rank()
}

// Media is a stored attachment owned by its Message.
type Media struct {
	Path     string `json:"path"`
	Mime     string `json:"mime"`
	Filename string `json:"filename,omitempty"`
}

// Message is immutable once persisted except for status transitions
// driven by delivery receipts. Author is either the contact (inbound) or
// a user (outbound/note), never both.
type Message struct {
	ID                int64         `json:"id"`
	ThreadID          int64         `json:"thread_id"`
	Direction         Direction     `json:"direction"`
	ContactID         *int64        `json:"contact_id,omitempty"`
	UserID            *int64        `json:"user_id,omitempty"`
	Body              string        `json:"body"`
	Media             *Media        `json:"media,omitempty"`
	Status            MessageStatus `json:"status"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	TemplateKind      string        `json:"template_kind,omitempty"`
	TemplateKey       string        `json:"template_key,omitempty"`
	CreatedAt         int64         `json:"created_at"`
}

// NewInboundMessage creates an inbound Message authored by a contact.
func NewInboundMessage(threadID, contactID int64, body string) *Message {
	return &Message{
		ThreadID:  threadID,
		Direction: DirectionInbound,
		ContactID: &contactID,
		Body:      body,
		Status:    MessageSent,
		CreatedAt: time.Now().Unix(),
	}
}

// NewOutboundMessage creates a pending outbound Message authored by a user.
func NewOutboundMessage(threadID, userID int64, body string) *Message {
	return &Message{
		ThreadID:  threadID,
		Direction: DirectionOutbound,
		UserID:    &userID,
		Body:      body,
		Status:    MessagePending,
		CreatedAt: time.Now().Unix(),
	}
}

// NewNote creates an internal note visible only to agents.
func NewNote(threadID, userID int64, body string) *Message {
	return &Message{
		ThreadID:  threadID,
		Direction: DirectionNote,
		UserID:    &userID,
		Body:      body,
		Status:    MessageSent,
		CreatedAt: time.Now().Unix(),
	}
}
