// Package cmd implements the vulnsync command line.
package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var version = "dev"

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	logLevel  string
	logFormat string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	gf := &globalFlags{}

	root := &cobra.Command{
		Use:   "vulnsync",
		Short: "Reconcile Dynatrace security problems into Jira issues",
		Long: `vulnsync reads the open security problems of a Dynatrace environment and
files one Jira issue per problem and rule partition.

Rules are evaluated in order. Each rule that matches part of a problem gets
that part filed with its own Jira parameters; whatever no rule matched is
filed with the defaults unless ignore_rest is set. Issues are found again
by their summary prefix, so runs are idempotent.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&gf.logLevel, "log-level", "", "Override log level: debug, info, warn, error (env: LOG_LEVEL)")
	root.PersistentFlags().StringVar(&gf.logFormat, "log-format", "", "Override log format: json, text (env: LOG_FORMAT)")

	root.AddCommand(
		newRunCmd(gf),
		newServeCmd(gf),
		newRulesCmd(),
		newEncryptSecretCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "vulnsync version %s\n", version)
			fmt.Fprintf(out, "  Go:       %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
