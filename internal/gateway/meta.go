package gateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"whatsapp-hub/internal/models"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// metaCredentials is the decrypted credential blob for a meta line.
type metaCredentials struct {
	APIToken      string `json:"api_token"`
	PhoneNumberID string `json:"phone_number_id"`
	BaseURL       string `json:"base_url,omitempty"`
}

// MetaCloudAdapter dispatches through the official cloud messaging API.
type MetaCloudAdapter struct {
	client      *http.Client
	creds       metaCredentials
	verifyToken string
}

// NewMetaCloudAdapter builds an adapter from a line's decrypted
// credential JSON.
func NewMetaCloudAdapter(client *http.Client, credentialJSON, verifyToken string) (*MetaCloudAdapter, error) {
	var creds metaCredentials
	if err := json.Unmarshal([]byte(credentialJSON), &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingCredentials, err)
	}
	if creds.APIToken == "" || creds.PhoneNumberID == "" {
		return nil, ErrMissingCredentials
	}
	if creds.BaseURL == "" {
		creds.BaseURL = defaultGraphBaseURL
	}
	return &MetaCloudAdapter{client: client, creds: creds, verifyToken: verifyToken}, nil
}

func (a *MetaCloudAdapter) Provider() models.Provider { return models.ProviderMeta }

func (a *MetaCloudAdapter) SendText(ctx context.Context, to, body string) (SendResult, error) {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	return a.post(ctx, payload)
}

func (a *MetaCloudAdapter) SendMedia(ctx context.Context, to string, media OutboundMedia) (SendResult, error) {
	uploadID, err := a.uploadMedia(ctx, media)
	if err != nil {
		return SendResult{}, err
	}

	kind := mediaKind(media.Mime)
	body := map[string]interface{}{"id": uploadID}
	if media.Caption != "" && kind != "audio" {
		body["caption"] = media.Caption
	}
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              kind,
		kind:                body,
	}
	return a.post(ctx, payload)
}

func (a *MetaCloudAdapter) FetchMedia(ctx context.Context, mediaID string) (MediaContent, error) {
	// Resolve the short-lived download URL first, then pull the bytes.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.creds.BaseURL+"/"+mediaID, nil)
	if err != nil {
		return MediaContent{}, err
	}
	req.Header.Set("Authorization", "Bearer "+a.creds.APIToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return MediaContent{}, fmt.Errorf("meta media lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return MediaContent{}, fmt.Errorf("meta media lookup returned status %d", resp.StatusCode)
	}

	var lookup struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lookup); err != nil {
		return MediaContent{}, err
	}

	dlReq, err := http.NewRequestWithContext(ctx, http.MethodGet, lookup.URL, nil)
	if err != nil {
		return MediaContent{}, err
	}
	dlReq.Header.Set("Authorization", "Bearer "+a.creds.APIToken)

	dlResp, err := a.client.Do(dlReq)
	if err != nil {
		return MediaContent{}, fmt.Errorf("meta media download failed: %w", err)
	}
	defer dlResp.Body.Close()

	if dlResp.StatusCode != http.StatusOK {
		return MediaContent{}, fmt.Errorf("meta media download returned status %d", dlResp.StatusCode)
	}

	data, err := io.ReadAll(dlResp.Body)
	if err != nil {
		return MediaContent{}, err
	}
	return MediaContent{Mime: lookup.MimeType, Data: data}, nil
}

func (a *MetaCloudAdapter) VerifyWebhookToken(token string) bool {
	if a.verifyToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.verifyToken), []byte(token)) == 1
}

func (a *MetaCloudAdapter) post(ctx context.Context, payload map[string]interface{}) (SendResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, err
	}

	url := a.creds.BaseURL + "/" + a.creds.PhoneNumberID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+a.creds.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("meta dispatch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return SendResult{}, fmt.Errorf("meta dispatch returned status %d: %s", resp.StatusCode, snippet)
	}

	var parsed struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return SendResult{}, fmt.Errorf("meta dispatch response unreadable: %w", err)
	}

	result := SendResult{}
	if len(parsed.Messages) > 0 {
		result.ProviderMessageID = parsed.Messages[0].ID
	}
	return result, nil
}

func (a *MetaCloudAdapter) uploadMedia(ctx context.Context, media OutboundMedia) (string, error) {
	var buf bytes.Buffer
	writer, boundary := newMultipartBody(&buf, media)
	if writer == nil {
		return "", fmt.Errorf("meta media upload: could not build form body")
	}

	url := a.creds.BaseURL + "/" + a.creds.PhoneNumberID + "/media"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+a.creds.APIToken)
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("meta media upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("meta media upload returned status %d", resp.StatusCode)
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("meta media upload returned empty id")
	}
	return parsed.ID, nil
}

func mediaKind(mime string) string {
	switch {
	case len(mime) >= 6 && mime[:6] == "image/":
		return "image"
	case len(mime) >= 6 && mime[:6] == "audio/":
		return "audio"
	case len(mime) >= 6 && mime[:6] == "video/":
		return "video"
	default:
		return "document"
	}
}
