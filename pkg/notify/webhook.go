package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/wisbric/pulsecheck/pkg/monitor"
)

// WebhookSink POSTs a JSON payload describing the alert to a single
// configured URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink constructs a WebhookSink. An empty url disables the sink.
func NewWebhookSink(url string, client *http.Client) *WebhookSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookSink{url: url, client: client}
}

// Channel implements Sink.
func (s *WebhookSink) Channel() string { return monitor.ChannelWebhook }

type webhookPayload struct {
	AlertID    string `json:"alert_id"`
	EndpointID string `json:"endpoint_id"`
	Kind       string `json:"kind"`
	Severity   string `json:"severity"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	CreatedAt  string `json:"created_at"`
}

// Deliver implements Sink.
func (s *WebhookSink) Deliver(ctx context.Context, alert monitor.Alert) error {
	if s.url == "" {
		return &DeliveryError{Channel: s.Channel(), Reason: "webhook sink not configured"}
	}

	body, err := json.Marshal(webhookPayload{
		AlertID:    alert.ID.String(),
		EndpointID: alert.EndpointID.String(),
		Kind:       alert.Kind,
		Severity:   alert.Severity,
		Title:      alert.Title,
		Message:    alert.Message,
		CreatedAt:  alert.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
	if err != nil {
		return &DeliveryError{Channel: s.Channel(), Reason: fmt.Sprintf("encoding payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Channel: s.Channel(), Reason: fmt.Sprintf("building request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &DeliveryError{Channel: s.Channel(), Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &DeliveryError{Channel: s.Channel(), Reason: fmt.Sprintf("webhook returned status %d", resp.StatusCode)}
	}
	return nil
}
