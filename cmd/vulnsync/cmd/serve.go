package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openctemio/vulnsync/internal/app"
	"github.com/openctemio/vulnsync/internal/config"
	httpserver "github.com/openctemio/vulnsync/internal/infra/http"
	"github.com/openctemio/vulnsync/internal/infra/http/handler"
	"github.com/openctemio/vulnsync/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(gf *globalFlags) *cobra.Command {
	var (
		rf     runFlags
		runNow bool
	)

	cmd := &cobra.Command{
		Use:   "serve CONFIG",
		Short: "Run reconciliations on a schedule",
		Long: `Run reconciliations on the cron schedule from schedule.cron and serve
/health, /ready, /status, /metrics and POST /run on schedule.listen_addr.

A run that is still going when the next one is due is skipped. With redis
configured, replicas share a lock so only one of them runs at a time. With
schedule.watch_config set, rule and ignore_rest changes in CONFIG are picked
up without a restart; connection settings still need one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			cfg, log, err := loadConfig(path, gf)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := buildComponents(cfg, log, rf.dryRun)
			if err != nil {
				return exitError(log, "failed to initialize", err)
			}
			defer c.Close()

			if err := checkJira(ctx, c.jira); err != nil {
				return exitError(log, "jira check failed", err)
			}

			scheduler, err := app.NewSyncScheduler(c.service, cfg.Schedule.Cron, rf.options(cfg), c.guard, log)
			if err != nil {
				return exitError(log, "invalid schedule", err)
			}

			healthOpts := []handler.HealthHandlerOption{
				handler.WithVersion(version),
				handler.WithCheck("jira", c.jira),
			}
			if c.redis != nil {
				healthOpts = append(healthOpts, handler.WithCheck("redis", c.redis))
			}
			server := httpserver.NewServer(
				httpserver.ServerConfig{Addr: cfg.Schedule.ListenAddr},
				handler.NewHealthHandler(healthOpts...),
				handler.NewSyncHandler(scheduler),
				log,
			)

			serverErr := make(chan error, 1)
			go func() { serverErr <- server.Start() }()

			if cfg.Schedule.WatchConfig {
				go func() {
					err := config.Watch(ctx, path, log, func(next *config.Config) {
						applyReload(scheduler, next, rf, log)
					})
					if err != nil {
						log.Error("config watcher stopped", "error", err)
					}
				}()
			}

			scheduler.Start()
			if runNow {
				if err := scheduler.Trigger(); err != nil {
					log.Warn("initial run not started", "error", err)
				}
			}
			log.Info("vulnsync started", "schedule", cfg.Schedule.Cron, "http_addr", cfg.Schedule.ListenAddr, "dry_run", rf.dryRun)

			select {
			case <-ctx.Done():
				log.Info("shutting down...")
			case err := <-serverErr:
				if err != nil {
					log.Error("server error", "error", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			scheduler.Stop(shutdownCtx)
			if err := server.Shutdown(shutdownCtx); err != nil {
				return exitError(log, "shutdown error", err)
			}
			log.Info("vulnsync stopped")
			return nil
		},
	}

	addRunFlags(cmd, &rf)
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Start a run immediately instead of waiting for the schedule")
	return cmd
}

// applyReload swaps in the rule chain and run options of a reloaded config.
func applyReload(scheduler *app.SyncScheduler, next *config.Config, rf runFlags, log *logger.Logger) {
	rules, err := next.BuildRules()
	if err != nil {
		log.Warn("reloaded rules rejected", "error", err)
		return
	}
	scheduler.Reconfigure(rules, rf.options(next))
}
