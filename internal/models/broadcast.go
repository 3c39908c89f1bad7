package models

import "time"

// Broadcast statuses.
const (
	BroadcastPending            = "pending"
	BroadcastRunning            = "running"
	BroadcastCompleted          = "completed"
	BroadcastCompletedWithErrs  = "completed_with_errors"
	BroadcastFailed             = "failed"
)

// BroadcastStats aggregates one dispatch run.
type BroadcastStats struct {
	Attempted   int `json:"attempted"`
	Sent        int `json:"sent"`
	Failed      int `json:"failed"`
	LimitSkipped int `json:"limit_skipped"`
}

// Broadcast is a one-to-many paced send campaign targeting threads by
// queue membership.
type Broadcast struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	Message      string  `json:"message"`
	TemplateKind string  `json:"template_kind,omitempty"`
	TemplateKey  string  `json:"template_key,omitempty"`
	Queues       []Queue `json:"queues"`
	Limit        int     `json:"limit"`
	Status       string  `json:"status"`
	Stats        BroadcastStats `json:"stats"`
	CreatedBy    int64   `json:"created_by"`
	CreatedAt    int64   `json:"created_at"`
	CompletedAt  *int64  `json:"completed_at,omitempty"`
	LastError    string  `json:"last_error,omitempty"`
}

// NewBroadcast creates a pending Broadcast.
func NewBroadcast(title, message string, queues []Queue, limit int, createdBy int64) *Broadcast {
	return &Broadcast{
		Title:     title,
		Message:   message,
		Queues:    queues,
		Limit:     limit,
		Status:    BroadcastPending,
		CreatedBy: createdBy,
		CreatedAt: time.Now().Unix(),
	}
}

// StatusFromStats derives the final status the way the dispatcher
// reports it: failures with zero sends fail the run, partial failures
// complete with errors.
func StatusFromStats(stats BroadcastStats) string {
	if stats.Sent == 0 && stats.Failed > 0 {
		return BroadcastFailed
	}
	if stats.Failed > 0 {
		return BroadcastCompletedWithErrs
	}
	return BroadcastCompleted
}

// BroadcastRequest is the request body for dispatching a broadcast.
type BroadcastRequest struct {
	Title        string   `json:"title" binding:"required,min=2,max=150"`
	Message      string   `json:"message" binding:"required"`
	Queues       []string `json:"queues" binding:"required,min=1"`
	Limit        int      `json:"limit,omitempty"`
	TemplateKind string   `json:"template_kind,omitempty"`
	TemplateKey  string   `json:"template_key,omitempty"`
}
