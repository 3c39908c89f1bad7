package gateway

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/pkg/utils"

	"github.com/google/uuid"
)

// SandboxAdapter simulates a gateway for demos and tests. Sends always
// succeed and inbound traffic is injected through SimulateInbound.
type SandboxAdapter struct {
	lineID      int64
	verifyToken string
}

// NewSandboxAdapter builds a sandbox adapter for one line.
func NewSandboxAdapter(lineID int64, verifyToken string) *SandboxAdapter {
	return &SandboxAdapter{lineID: lineID, verifyToken: verifyToken}
}

func (a *SandboxAdapter) Provider() models.Provider { return models.ProviderSandbox }

func (a *SandboxAdapter) SendText(_ context.Context, _, _ string) (SendResult, error) {
	return SendResult{ProviderMessageID: sandboxMessageID()}, nil
}

func (a *SandboxAdapter) SendMedia(_ context.Context, _ string, _ OutboundMedia) (SendResult, error) {
	return SendResult{ProviderMessageID: sandboxMessageID()}, nil
}

func (a *SandboxAdapter) FetchMedia(_ context.Context, _ string) (MediaContent, error) {
	return MediaContent{}, ErrNotSupported
}

func (a *SandboxAdapter) VerifyWebhookToken(token string) bool {
	if a.verifyToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.verifyToken), []byte(token)) == 1
}

// SimulateInbound crafts an inbound event as if the provider had
// delivered it, so test traffic flows through the real ingestion path.
func (a *SandboxAdapter) SimulateInbound(from, body, profileName string) InboundEvent {
	return InboundEvent{
		LineID:            a.lineID,
		From:              utils.NormalizePhone(from),
		Body:              body,
		ProviderMessageID: sandboxMessageID(),
		ProfileName:       profileName,
		Timestamp:         time.Now().Unix(),
	}
}

func sandboxMessageID() string {
	return "sandbox-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
