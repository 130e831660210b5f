package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
)

// WebhookNotifier POSTs messages as JSON to an HTTP endpoint. The URL is
// read from the settings snapshot on every send; an empty URL means the
// backend is not configured.
type WebhookNotifier struct {
	settings model.SettingsReader
	key      string
	client   *http.Client
	now      func() time.Time
}

// NewWebhookNotifier creates a webhook notifier reading its URL from key.
func NewWebhookNotifier(settings model.SettingsReader, key string) *WebhookNotifier {
	return &WebhookNotifier{
		settings: settings,
		key:      key,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, text string) error {
	if w.settings == nil {
		return ErrNotConfigured
	}
	url, err := w.settings.GetSetting(ctx, w.key)
	if err != nil {
		return fmt.Errorf("webhook: read url: %w", err)
	}
	if url == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(map[string]interface{}{
		"text": text,
		"ts":   w.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
