package gateway

import (
	"context"
	"errors"

	"whatsapp-hub/internal/models"
)

var (
	// ErrNotSupported indicates the adapter variant lacks the requested capability
	ErrNotSupported = errors.New("gateway: capability not supported by this provider")
	// ErrMissingCredentials indicates the line has no usable credential blob
	ErrMissingCredentials = errors.New("gateway: line credentials missing or invalid")
)

// SendResult reports a completed outbound dispatch.
type SendResult struct {
	ProviderMessageID string `json:"provider_message_id"`
}

// OutboundMedia is an attachment handed to SendMedia. Data is already
// loaded; adapters never touch the filesystem.
type OutboundMedia struct {
	Filename string
	Mime     string
	Data     []byte
	Caption  string
}

// MediaContent is the payload returned by FetchMedia.
type MediaContent struct {
	Mime string
	Data []byte
}

// InboundEvent is a provider-agnostic inbound message, the shape the
// ingestion pipeline folds into thread/message state.
type InboundEvent struct {
	LineID            int64
	From              string
	Body              string
	ProviderMessageID string
	ProfileName       string
	ProfilePhoto      string
	Timestamp         int64
	GroupSubject      string
	GroupKey          string
}

// Adapter is the polymorphic boundary to one messaging provider. Each
// Line is bound to exactly one adapter instance, selected once at
// line-load time by the Registry.
type Adapter interface {
	Provider() models.Provider
	SendText(ctx context.Context, to, body string) (SendResult, error)
	SendMedia(ctx context.Context, to string, media OutboundMedia) (SendResult, error)
	FetchMedia(ctx context.Context, mediaID string) (MediaContent, error)
	// VerifyWebhookToken compares against the line's stored verify token
	// in constant time.
	VerifyWebhookToken(token string) bool
}

// InboundSimulator is implemented by the sandbox adapter only; it crafts
// inbound events without a live gateway.
type InboundSimulator interface {
	SimulateInbound(from, body, profileName string) InboundEvent
}
