package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCmd(gf *globalFlags) *cobra.Command {
	var rf runFlags

	cmd := &cobra.Command{
		Use:   "run CONFIG",
		Short: "Perform one reconciliation",
		Long: `Read all open security problems and file or update Jira issues for them.

With --dry-run nothing is written to Jira; the actions that would be taken
are logged instead. With --comment the single existing issue of a
partition gets a comment listing what is affected now.`,
		Example: `  vulnsync run config.yaml --dry-run
  vulnsync run config.json --comment`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(args[0], gf)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := buildComponents(cfg, log, rf.dryRun)
			if err != nil {
				return exitError(log, "failed to initialize", err)
			}
			defer c.Close()

			if err := checkJira(ctx, c.jira); err != nil {
				return exitError(log, "jira check failed", err)
			}

			opts := rf.options(cfg)
			run := func(ctx context.Context) error {
				_, err := c.service.Run(ctx, opts)
				return err
			}
			if c.guard != nil {
				err = c.guard.Do(ctx, run)
			} else {
				err = run(ctx)
			}
			if err != nil {
				return exitError(log, "reconciliation failed", err)
			}
			return nil
		},
	}

	addRunFlags(cmd, &rf)
	return cmd
}

func addRunFlags(cmd *cobra.Command, rf *runFlags) {
	cmd.Flags().BoolVar(&rf.dryRun, "dry-run", false, "Log Jira actions instead of performing them")
	cmd.Flags().BoolVar(&rf.comment, "comment", false, "Comment on the existing issue with the current affected list")
}
