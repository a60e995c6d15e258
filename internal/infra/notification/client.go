// Package notification posts run summaries to chat or webhook endpoints.
package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 1 << 20
)

// Message represents a notification message.
type Message struct {
	Title      string
	Body       string
	Severity   string // critical, high, medium, low
	URL        string
	Fields     map[string]string
	Color      string
	FooterText string
}

// SendResult represents the result of sending a notification.
type SendResult struct {
	Success bool
	Error   string
}

// Client defines the interface for notification providers.
type Client interface {
	// Send sends a notification message. Delivery failures are reported in
	// the result, not as an error.
	Send(ctx context.Context, msg Message) (*SendResult, error)

	// Provider returns the provider name.
	Provider() string
}

// Config holds the configuration for creating a notification client.
type Config struct {
	Provider   Provider
	WebhookURL string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Provider represents a notification provider.
type Provider string

const (
	ProviderSlack   Provider = "slack"
	ProviderWebhook Provider = "webhook"
)

// Severity constants.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// String returns the string representation of the provider.
func (p Provider) String() string {
	return string(p)
}

// NewClient creates a notification client for the configured provider.
func NewClient(config Config) (Client, error) {
	switch config.Provider {
	case ProviderSlack:
		return NewSlackClient(config)
	case ProviderWebhook:
		return NewWebhookClient(config)
	default:
		return nil, fmt.Errorf("unsupported notification provider: %s", config.Provider)
	}
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// GetSeverityColor returns a hex color for the given severity.
func GetSeverityColor(severity string) string {
	switch severity {
	case SeverityCritical:
		return "#dc2626"
	case SeverityHigh:
		return "#ea580c"
	case SeverityMedium:
		return "#ca8a04"
	case SeverityLow:
		return "#16a34a"
	default:
		return "#6b7280"
	}
}

// GetSeverityEmoji returns an emoji for the given severity.
func GetSeverityEmoji(severity string) string {
	switch severity {
	case SeverityCritical:
		return "\U0001F6A8"
	case SeverityHigh:
		return "\U000026A0"
	case SeverityMedium:
		return "\U0001F7E1"
	case SeverityLow:
		return "\U00002705"
	default:
		return "\U00002139"
	}
}
