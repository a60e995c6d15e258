package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openctemio/vulnsync/pkg/logger"
)

// reloadDelay coalesces the burst of events editors emit on save.
const reloadDelay = 500 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes the
// result to onChange. Invalid configurations are logged and skipped so the
// previous one stays in effect. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file so that editors and
// config-map mounts replacing the file by rename are seen too.
func Watch(ctx context.Context, path string, log *logger.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	log = log.With("config", abs)
	log.Info("watching configuration for changes")

	reload := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(reloadDelay, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(reloadDelay)
			}

		case <-reload:
			cfg, err := Load(abs)
			if err != nil {
				log.Error("configuration reload failed, keeping previous", "error", err)
				continue
			}
			log.Info("configuration reloaded", "rules", len(cfg.Rules))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "error", err)
		}
	}
}
