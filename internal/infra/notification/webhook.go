package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookClient posts a JSON payload to an arbitrary endpoint.
type WebhookClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewWebhookClient creates a new generic webhook notification client.
func NewWebhookClient(config Config) (*WebhookClient, error) {
	if config.WebhookURL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}

	return &WebhookClient{
		webhookURL: config.WebhookURL,
		httpClient: config.httpClient(),
	}, nil
}

// Provider returns the provider name.
func (c *WebhookClient) Provider() string {
	return string(ProviderWebhook)
}

// WebhookPayload represents the JSON payload sent to the webhook.
type WebhookPayload struct {
	EventType  string            `json:"event_type"`
	Timestamp  string            `json:"timestamp"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Severity   string            `json:"severity"`
	URL        string            `json:"url,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	FooterText string            `json:"footer_text,omitempty"`
	Source     string            `json:"source"`
}

// Send sends a notification message to the webhook.
func (c *WebhookClient) Send(ctx context.Context, msg Message) (*SendResult, error) {
	payload, err := json.Marshal(c.buildPayload(msg))
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "vulnsync-notification/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SendResult{Error: fmt.Sprintf("send request failed: %v", err)}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SendResult{Error: fmt.Sprintf("webhook returned status %d: %s", resp.StatusCode, string(body))}, nil
	}
	return &SendResult{Success: true}, nil
}

func (c *WebhookClient) buildPayload(msg Message) WebhookPayload {
	return WebhookPayload{
		EventType:  "sync.run",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Title:      msg.Title,
		Body:       msg.Body,
		Severity:   msg.Severity,
		URL:        msg.URL,
		Fields:     msg.Fields,
		FooterText: msg.FooterText,
		Source:     "vulnsync",
	}
}
