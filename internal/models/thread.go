package models

import "time"

// Queue is a triage bucket a Thread currently belongs to.
type Queue string

const (
	QueueArrival     Queue = "arrival"
	QueueScheduled   Queue = "scheduled"
	QueuePartner     Queue = "partner"
	QueueReminder    Queue = "reminder"
	QueueAtendimento Queue = "atendimento"
	QueueGroup       Queue = "group"
	QueueCompleted   Queue = "completed"
)

// AllQueues lists every queue in panel order.
func AllQueues() []Queue {
	return []Queue{
		QueueArrival,
		QueueScheduled,
		QueuePartner,
		QueueReminder,
		QueueAtendimento,
		QueueGroup,
		QueueCompleted,
	}
}

// ParseQueue normalizes a raw queue name. Unknown names report false.
func ParseQueue(raw string) (Queue, bool) {
	q := Queue(raw)
	for _, known := range AllQueues() {
		if q == known {
			return known, true
		}
	}
	return "", false
}

// ThreadStatus is the conversational state, independent of queue.
type ThreadStatus string

const (
	StatusOpen    ThreadStatus = "open"
	StatusWaiting ThreadStatus = "waiting"
	StatusClosed  ThreadStatus = "closed"
)

// ParseThreadStatus normalizes a raw status value.
func ParseThreadStatus(raw string) (ThreadStatus, bool) {
	switch ThreadStatus(raw) {
	case StatusOpen:
		return StatusOpen, true
	case StatusWaiting:
		return StatusWaiting, true
	case StatusClosed:
		return StatusClosed, true
	}
	return "", false
}

// Thread is one conversation, uniquely keyed by (line, channel_thread_id).
// AssignedUserID zero means unowned; ownership is exclusive.
type Thread struct {
	ID                int64        `json:"id"`
	LineID            int64        `json:"line_id"`
	ContactID         int64        `json:"contact_id"`
	ChannelThreadID   string       `json:"channel_thread_id"`
	Queue             Queue        `json:"queue"`
	Status            ThreadStatus `json:"status"`
	AssignedUserID    int64        `json:"assigned_user_id"`
	UnreadCount       int          `json:"unread_count"`
	LastMessageAt     int64        `json:"last_message_at"`
	CreatedAt         int64        `json:"created_at"`
	UpdatedAt         int64        `json:"updated_at"`
	ScheduledFor      *int64       `json:"scheduled_for,omitempty"`
	PartnerID         *int64       `json:"partner_id,omitempty"`
	ResponsibleUserID *int64       `json:"responsible_user_id,omitempty"`
	IntakeSummary     string       `json:"intake_summary,omitempty"`
	CampaignKind      string       `json:"campaign_kind,omitempty"`
	CampaignToken     string       `json:"campaign_token,omitempty"`

	// Denormalized joins, loaded with the thread, never written back.
	ContactName  string `json:"contact_name,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
	LineLabel    string `json:"line_label,omitempty"`
	LineProvider string `json:"line_provider,omitempty"`
}

// NewThread creates a Thread in the arrival queue, open, unowned.
func NewThread(lineID, contactID int64, channelThreadID string) *Thread {
	now := time.Now().Unix()
	return &Thread{
		LineID:          lineID,
		ContactID:       contactID,
		ChannelThreadID: channelThreadID,
		Queue:           QueueArrival,
		Status:          StatusOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ThreadCard is the denormalized projection the UI renders for one
// thread in a queue panel.
type ThreadCard struct {
	ID                 int64  `json:"id"`
	Queue              Queue  `json:"queue"`
	Status             string `json:"status"`
	ContactName        string `json:"contact_name"`
	ContactPhone       string `json:"contact_phone"`
	ContactPhoneFmt    string `json:"contact_phone_formatted"`
	ContactClientID    *int64 `json:"contact_client_id,omitempty"`
	LastMessagePreview string `json:"last_message_preview"`
	UnreadCount        int    `json:"unread_count"`
	LineID             int64  `json:"line_id"`
	LineLabel          string `json:"line_label,omitempty"`
	LineProvider       string `json:"line_provider,omitempty"`
	ScheduledFor       *int64 `json:"scheduled_for,omitempty"`
	AssignedUserID     int64  `json:"assigned_user_id"`
}

// QueueMeta carries the optional metadata accepted by a queue move.
type QueueMeta struct {
	ScheduledFor      *int64
	PartnerID         *int64
	ResponsibleUserID *int64
	IntakeSummary     *string
}
