package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/vulnsync/internal/app"
	"github.com/openctemio/vulnsync/pkg/logger"
)

// MockClient is a mock implementation of Client.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Send(ctx context.Context, msg Message) (*SendResult, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SendResult), args.Error(1)
}

func (m *MockClient) Provider() string {
	return "mock"
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		provider string
		wantErr  bool
	}{
		{name: "slack", config: Config{Provider: ProviderSlack, WebhookURL: "https://hooks.slack.com/x"}, provider: "slack"},
		{name: "webhook", config: Config{Provider: ProviderWebhook, WebhookURL: "https://example.com/hook"}, provider: "webhook"},
		{name: "slack without url", config: Config{Provider: ProviderSlack}, wantErr: true},
		{name: "webhook without url", config: Config{Provider: ProviderWebhook}, wantErr: true},
		{name: "unknown provider", config: Config{Provider: "pager", WebhookURL: "https://x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.provider, c.Provider())
		})
	}
}

func TestSlackClient_Send(t *testing.T) {
	var got slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c, err := NewSlackClient(Config{WebhookURL: server.URL})
	require.NoError(t, err)

	result, err := c.Send(context.Background(), Message{
		Title:    "Vulnerability sync completed",
		Body:     "2 issue(s) created",
		Severity: SeverityMedium,
		Fields:   map[string]string{"b": "2", "a": "1"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.Len(t, got.Attachments, 1)
	assert.Equal(t, GetSeverityColor(SeverityMedium), got.Attachments[0].Color)
	blocks := got.Attachments[0].Blocks
	require.Len(t, blocks, 3)
	assert.Equal(t, "header", blocks[0].Type)
	require.Len(t, blocks[2].Fields, 2)
	assert.Equal(t, "*a:*\n1", blocks[2].Fields[0].Text)
}

func TestWebhookClient_Send(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		success bool
	}{
		{name: "ok", status: http.StatusOK, success: true},
		{name: "accepted", status: http.StatusAccepted, success: true},
		{name: "server error", status: http.StatusInternalServerError, success: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got WebhookPayload
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			c, err := NewWebhookClient(Config{WebhookURL: server.URL})
			require.NoError(t, err)

			result, err := c.Send(context.Background(), Message{Title: "t", Severity: SeverityLow})
			require.NoError(t, err)
			assert.Equal(t, tt.success, result.Success)
			assert.Equal(t, "vulnsync", got.Source)
			assert.Equal(t, "sync.run", got.EventType)
		})
	}
}

func TestRunNotifier_NotifyRun(t *testing.T) {
	ctx := context.Background()

	t.Run("sends summary", func(t *testing.T) {
		client := new(MockClient)
		client.On("Send", ctx, mock.MatchedBy(func(m Message) bool {
			return m.Severity == SeverityMedium && m.Fields["Created"] == "2"
		})).Return(&SendResult{Success: true}, nil).Once()

		n := NewRunNotifier(client, false, logger.NewNop())
		require.NoError(t, n.NotifyRun(ctx, &app.RunReport{RunID: "r1", Created: 2}))
		client.AssertExpectations(t)
	})

	t.Run("only on change skips quiet runs", func(t *testing.T) {
		client := new(MockClient)
		n := NewRunNotifier(client, true, logger.NewNop())
		require.NoError(t, n.NotifyRun(ctx, &app.RunReport{RunID: "r2", Existing: 4}))
		client.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("only on change still reports failures", func(t *testing.T) {
		client := new(MockClient)
		client.On("Send", ctx, mock.MatchedBy(func(m Message) bool {
			return m.Severity == SeverityHigh && m.Body == "dynatrace unreachable"
		})).Return(&SendResult{Success: true}, nil).Once()

		n := NewRunNotifier(client, true, logger.NewNop())
		require.NoError(t, n.NotifyRun(ctx, &app.RunReport{RunID: "r3", Error: "dynatrace unreachable"}))
		client.AssertExpectations(t)
	})

	t.Run("delivery failure is an error", func(t *testing.T) {
		client := new(MockClient)
		client.On("Send", ctx, mock.Anything).Return(&SendResult{Error: "status 500"}, nil)

		n := NewRunNotifier(client, false, logger.NewNop())
		assert.EqualError(t, n.NotifyRun(ctx, &app.RunReport{RunID: "r4"}), "status 500")
	})

	t.Run("nil report", func(t *testing.T) {
		n := NewRunNotifier(new(MockClient), false, logger.NewNop())
		assert.NoError(t, n.NotifyRun(ctx, nil))
	})
}

func TestBuildRunMessage(t *testing.T) {
	msg := BuildRunMessage(&app.RunReport{
		RunID:    "abc",
		DryRun:   true,
		Duration: 1500 * time.Millisecond,
	})
	assert.Equal(t, "Vulnerability sync completed (dry-run)", msg.Title)
	assert.Equal(t, SeverityLow, msg.Severity)
	assert.Equal(t, "No new issues.", msg.Body)
	assert.Equal(t, "run abc, took 1.5s", msg.FooterText)
}
