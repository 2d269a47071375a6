package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SignatureHeader carries the HMAC-SHA256 signature of the request body,
// keyed with the site secret, so receivers can authenticate the payload.
const SignatureHeader = "X-Sitewarden-Signature"

// WebhookChannel POSTs alerts as signed JSON to an external endpoint.
type WebhookChannel struct {
	url        string
	siteSecret string
	client     *http.Client
}

// NewWebhookChannel creates a WebhookChannel. The client's timeout is left
// to the dispatcher's per-delivery deadline.
func NewWebhookChannel(url, siteSecret string) *WebhookChannel {
	return &WebhookChannel{
		url:        url,
		siteSecret: siteSecret,
		client:     &http.Client{},
	}
}

// Name implements Channel.
func (c *WebhookChannel) Name() string { return "webhook" }

// Deliver implements Channel. The signature is computed over the exact bytes
// sent, so receivers verify against the raw body before parsing.
func (c *WebhookChannel) Deliver(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("webhook: failed to encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(body, c.siteSecret))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of body under the site secret.
func Sign(body []byte, siteSecret string) string {
	mac := hmac.New(sha256.New, []byte(siteSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
