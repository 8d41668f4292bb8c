package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	alerts "ecowatt-cloud/internal/alerts/domain"
)

// Notifier delivers an alert to an external channel.
type Notifier interface {
	Notify(ctx context.Context, alert alerts.Alert) error
}

type webhookPayload struct {
	DeviceID int64  `json:"device_id"`
	Kind     string `json:"kind"`
	Value    string `json:"value"`
	RaisedAt string `json:"raised_at"`
	Text     string `json:"text"`
}

// WebhookNotifier posts alerts to a webhook endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// WebhookOption configures the notifier.
type WebhookOption func(*WebhookNotifier)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(n *WebhookNotifier) {
		if client != nil {
			n.client = client
		}
	}
}

// NewWebhookNotifier constructs a webhook notifier.
func NewWebhookNotifier(url string, opts ...WebhookOption) (*WebhookNotifier, error) {
	if url == "" {
		return nil, errors.New("webhook notifier: empty url")
	}
	n := &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify posts the alert as a JSON payload.
func (n *WebhookNotifier) Notify(ctx context.Context, alert alerts.Alert) error {
	if n == nil || n.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	payload := webhookPayload{
		DeviceID: alert.DeviceID,
		Kind:     string(alert.Kind),
		Value:    alert.Value(),
		RaisedAt: alert.RaisedAt.UTC().Format(time.RFC3339),
		Text:     renderText(alert),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook notifier: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: status %d", resp.StatusCode)
	}
	return nil
}

func renderText(alert alerts.Alert) string {
	switch alert.Kind {
	case alerts.KindIdleDrain:
		return fmt.Sprintf("Device %q draws %s while idle overnight", alert.DeviceName, alert.Value())
	case alerts.KindSustainedPeak:
		return fmt.Sprintf("Device %q sustained a consumption peak of %s", alert.DeviceName, alert.Value())
	default:
		return fmt.Sprintf("Device %q alert: %s", alert.DeviceName, alert.Value())
	}
}

// MultiNotifier fans one alert out to several notifiers. The first error
// is reported after every notifier has been tried.
type MultiNotifier []Notifier

// Notify delivers to each wrapped notifier.
func (m MultiNotifier) Notify(ctx context.Context, alert alerts.Alert) error {
	var firstErr error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
