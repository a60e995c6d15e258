package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew_RedactsSensitiveKeys(t *testing.T) {
	tests := []struct {
		key      string
		redacted bool
	}{
		{"password", true},
		{"jira_password", true},
		{"dt_token", true},
		{"Authorization", true},
		{"webhook_url", true},
		{"display_id", false},
		{"rule_id", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(Config{Level: "info", Format: "json", Output: &buf})
			log.Info("test", tt.key, "value")

			entry := decodeLine(t, &buf)
			if tt.redacted {
				assert.Equal(t, "[REDACTED]", entry[tt.key])
			} else {
				assert.Equal(t, "value", entry[tt.key])
			}
		})
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})

	log.Info("ignored")
	assert.Zero(t, buf.Len())

	log.Warn("kept")
	assert.Equal(t, "kept", decodeLine(t, &buf)["msg"])
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "text", Output: &buf})
	log.Info("hello", "display_id", "S-1")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "display_id=S-1")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vulnsync.log")
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf, File: FileConfig{Path: path, MaxSizeMB: 1}})

	log.Info("to both")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}

func TestWithContext_RunID(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})

	ctx := context.WithValue(context.Background(), ContextKeyRunID, "run-123")
	log.WithContext(ctx).Info("msg")

	assert.Equal(t, "run-123", decodeLine(t, &buf)["run_id"])
}

func TestContextRoundTrip(t *testing.T) {
	log := NewNop()
	ctx := ToContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestValidLevel(t *testing.T) {
	assert.True(t, ValidLevel("DEBUG"))
	assert.True(t, ValidLevel("warning"))
	assert.False(t, ValidLevel("verbose"))
}
