package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/openctemio/vulnsync/internal/app"
	"github.com/openctemio/vulnsync/internal/config"
	"github.com/openctemio/vulnsync/internal/infra/dynatrace"
	"github.com/openctemio/vulnsync/internal/infra/jira"
	"github.com/openctemio/vulnsync/internal/infra/notification"
	"github.com/openctemio/vulnsync/internal/infra/redis"
	"github.com/openctemio/vulnsync/pkg/domain/securitydata"
	"github.com/openctemio/vulnsync/pkg/logger"
)

const (
	entityCachePrefix = "vulnsync:entity"
	runLockKey        = "vulnsync:run"
	jiraPingTimeout   = 15 * time.Second
)

// runFlags are shared by run and serve.
type runFlags struct {
	dryRun  bool
	comment bool
}

func (f runFlags) options(cfg *config.Config) app.RunOptions {
	return app.RunOptions{
		DryRun:          f.dryRun,
		AddComments:     f.comment,
		IgnoreRemainder: cfg.IgnoreRest,
	}
}

// components is everything a run needs, built from one configuration.
type components struct {
	log     *logger.Logger
	service *app.SyncService
	jira    *jira.Client
	redis   *redis.Client
	guard   app.RunGuard
}

func (c *components) Close() {
	if c.redis == nil {
		return
	}
	if err := c.redis.Close(); err != nil {
		c.log.Error("failed to close redis", "error", err)
	}
}

func loadConfig(path string, gf *globalFlags) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if gf.logLevel != "" {
		cfg.Log.Level = gf.logLevel
	}
	if gf.logFormat != "" {
		cfg.Log.Format = gf.logFormat
	}
	return cfg, initLogger(cfg), nil
}

func initLogger(cfg *config.Config) *logger.Logger {
	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
		File: logger.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   true,
		},
	})
	log.SetDefault()
	return log
}

func buildComponents(cfg *config.Config, log *logger.Logger, dryRun bool) (*components, error) {
	rules, err := cfg.BuildRules()
	if err != nil {
		return nil, err
	}

	dt, err := dynatrace.NewClient(dynatrace.Config{
		BaseURL:           cfg.DTConn.URL,
		Token:             cfg.DTConn.Token,
		Timeout:           cfg.Dynatrace.Timeout,
		RequestsPerSecond: cfg.Dynatrace.RequestsPerSecond,
		MaxRetries:        cfg.Dynatrace.MaxRetries,
		Concurrency:       cfg.Dynatrace.Concurrency,
		PageSize:          cfg.Dynatrace.PageSize,
	}, log)
	if err != nil {
		return nil, err
	}

	jc, err := jira.NewClient(jira.Config{
		URL:      cfg.JiraConn.URL,
		Username: cfg.JiraConn.Username,
		Password: cfg.JiraConn.Password,
		Defaults: cfg.JiraDefaults.Map(),
		DryRun:   dryRun,
	}, log)
	if err != nil {
		return nil, err
	}

	c := &components{log: log, jira: jc}

	var cache app.EntityCache
	if cfg.Redis.Enabled() {
		rc, err := redis.New(&cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		c.redis = rc

		entityCache, err := redis.NewCache[securitydata.EntityDetails](rc, entityCachePrefix, cfg.Redis.CacheTTL)
		if err != nil {
			c.Close()
			return nil, err
		}
		cache = entityCache

		locker, err := redis.NewLocker(rc, runLockKey, cfg.Redis.LockTTL)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.guard = locker
		log.Info("redis enabled", "addr", cfg.Redis.Addr, "cache_ttl", cfg.Redis.CacheTTL, "lock_ttl", cfg.Redis.LockTTL)
	}

	var notifier app.RunNotifier
	if cfg.Notify.Enabled() {
		nc, err := notification.NewClient(notification.Config{
			Provider:   notification.Provider(cfg.Notify.Provider),
			WebhookURL: cfg.Notify.WebhookURL,
		})
		if err != nil {
			c.Close()
			return nil, err
		}
		notifier = notification.NewRunNotifier(nc, cfg.Notify.OnlyOnChange, log)
	}

	collector := app.NewCollector(dt, cache, log)
	writer := app.NewTicketWriter(jc, log)
	c.service = app.NewSyncService(collector, writer, rules, notifier, log)
	return c, nil
}

// checkJira verifies the Jira credentials before any provider call.
func checkJira(ctx context.Context, jc *jira.Client) error {
	ctx, cancel := context.WithTimeout(ctx, jiraPingTimeout)
	defer cancel()
	return jc.Ping(ctx)
}

// exitError reports a fatal error the way operators read it.
func exitError(log *logger.Logger, msg string, err error) error {
	if errors.Is(err, context.Canceled) {
		log.Warn(msg, "error", err)
	} else {
		log.Error(msg, "error", err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
