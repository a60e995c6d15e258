package config

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/vulnsync/pkg/logger"
)

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, logger.NewNop(), func(cfg *Config) { changes <- cfg })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	// An invalid file is skipped.
	require.NoError(t, os.WriteFile(path, []byte("rules: [\n"), 0o600))
	select {
	case <-changes:
		t.Fatal("invalid configuration must not be delivered")
	case <-time.After(2 * reloadDelay):
	}

	updated := strings.Replace(validYAML, "ignore_rest: false", "ignore_rest: true", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case cfg := <-changes:
		assert.True(t, cfg.IgnoreRest)
		assert.Len(t, cfg.Rules, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration change not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not return after cancel")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), "/does/not/exist/config.yaml", logger.NewNop(), func(*Config) {})
	assert.Error(t, err)
}
