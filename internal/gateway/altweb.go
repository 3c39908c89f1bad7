package gateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"whatsapp-hub/internal/models"
)

// altCredentials is the decrypted credential blob for a self-hosted
// browser-automation gateway instance.
type altCredentials struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// AltWebGatewayAdapter dispatches through one self-hosted gateway
// instance identified by slug.
type AltWebGatewayAdapter struct {
	client      *http.Client
	slug        string
	creds       altCredentials
	verifyToken string
}

// NewAltWebGatewayAdapter builds an adapter bound to one instance slug.
func NewAltWebGatewayAdapter(client *http.Client, slug, credentialJSON, verifyToken string) (*AltWebGatewayAdapter, error) {
	clean := SanitizeSlug(slug)
	if clean == "" {
		return nil, fmt.Errorf("gateway: alt line requires an instance slug")
	}

	var creds altCredentials
	if err := json.Unmarshal([]byte(credentialJSON), &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingCredentials, err)
	}
	if creds.BaseURL == "" {
		return nil, ErrMissingCredentials
	}
	creds.BaseURL = strings.TrimRight(creds.BaseURL, "/")

	return &AltWebGatewayAdapter{client: client, slug: clean, creds: creds, verifyToken: verifyToken}, nil
}

func (a *AltWebGatewayAdapter) Provider() models.Provider { return models.ProviderAlt }

// Slug returns the gateway instance slug this adapter is bound to.
func (a *AltWebGatewayAdapter) Slug() string { return a.slug }

func (a *AltWebGatewayAdapter) SendText(ctx context.Context, to, body string) (SendResult, error) {
	return a.post(ctx, "/send-message", map[string]interface{}{
		"phone":   to,
		"message": body,
	})
}

func (a *AltWebGatewayAdapter) SendMedia(ctx context.Context, to string, media OutboundMedia) (SendResult, error) {
	return a.post(ctx, "/send-media", map[string]interface{}{
		"phone":    to,
		"caption":  media.Caption,
		"filename": media.Filename,
		"mimetype": media.Mime,
		"media":    base64.StdEncoding.EncodeToString(media.Data),
	})
}

func (a *AltWebGatewayAdapter) FetchMedia(ctx context.Context, mediaID string) (MediaContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.creds.BaseURL+"/media/"+mediaID, nil)
	if err != nil {
		return MediaContent{}, err
	}
	req.Header.Set("X-Api-Key", a.creds.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return MediaContent{}, fmt.Errorf("alt gateway %s media fetch failed: %w", a.slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return MediaContent{}, fmt.Errorf("alt gateway %s media fetch returned status %d", a.slug, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return MediaContent{}, err
	}
	return MediaContent{Mime: resp.Header.Get("Content-Type"), Data: data}, nil
}

func (a *AltWebGatewayAdapter) VerifyWebhookToken(token string) bool {
	if a.verifyToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.verifyToken), []byte(token)) == 1
}

func (a *AltWebGatewayAdapter) post(ctx context.Context, path string, payload map[string]interface{}) (SendResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.creds.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", a.creds.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("alt gateway %s dispatch failed: %w", a.slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return SendResult{}, fmt.Errorf("alt gateway %s dispatch returned status %d: %s", a.slug, resp.StatusCode, snippet)
	}

	var parsed struct {
		MessageID string `json:"message_id"`
		ID        string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		// Some gateway builds answer with an empty body on success.
		return SendResult{}, nil
	}

	result := SendResult{ProviderMessageID: parsed.MessageID}
	if result.ProviderMessageID == "" {
		result.ProviderMessageID = parsed.ID
	}
	return result, nil
}
