package gateway

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/pkg/utils"
)

// Registry selects and caches the adapter for each line. Provider
// branching happens here once, at line-load time; everything downstream
// works against the Adapter interface.
type Registry struct {
	client        *http.Client
	credentialKey string

	mu       sync.RWMutex
	adapters map[int64]Adapter
}

// NewRegistry builds a registry. sendTimeout bounds every outbound
// gateway call; credentialKey decrypts Line credential blobs.
func NewRegistry(sendTimeout time.Duration, credentialKey string) *Registry {
	if sendTimeout <= 0 {
		sendTimeout = 15 * time.Second
	}
	return &Registry{
		client:        &http.Client{Timeout: sendTimeout},
		credentialKey: credentialKey,
		adapters:      make(map[int64]Adapter),
	}
}

// ForLine returns the adapter bound to the line, building it on first use.
func (r *Registry) ForLine(line *models.Line) (Adapter, error) {
	if line == nil {
		return nil, fmt.Errorf("gateway: line is nil")
	}

	r.mu.RLock()
	adapter, ok := r.adapters[line.ID]
	r.mu.RUnlock()
	if ok {
		return adapter, nil
	}

	adapter, err := r.build(line)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.adapters[line.ID] = adapter
	r.mu.Unlock()

	return adapter, nil
}

// Invalidate drops the cached adapter for a line. Called on line CRUD so
// credential or token changes take effect immediately.
func (r *Registry) Invalidate(lineID int64) {
	r.mu.Lock()
	delete(r.adapters, lineID)
	r.mu.Unlock()
}

func (r *Registry) build(line *models.Line) (Adapter, error) {
	credentialJSON := line.Credentials
	if credentialJSON != "" && r.credentialKey != "" {
		decrypted, err := utils.DecryptCredentials(credentialJSON, r.credentialKey)
		if err != nil {
			return nil, fmt.Errorf("gateway: line %d credentials unreadable: %w", line.ID, err)
		}
		credentialJSON = decrypted
	}

	switch line.Provider {
	case models.ProviderMeta:
		return NewMetaCloudAdapter(r.client, credentialJSON, line.VerifyToken)
	case models.ProviderAlt:
		return NewAltWebGatewayAdapter(r.client, line.AltInstance, credentialJSON, line.VerifyToken)
	case models.ProviderSandbox:
		return NewSandboxAdapter(line.ID, line.VerifyToken), nil
	default:
		return nil, fmt.Errorf("gateway: unknown provider %q for line %d", line.Provider, line.ID)
	}
}
