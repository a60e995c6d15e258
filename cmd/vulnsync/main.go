// Command vulnsync turns open Dynatrace security problems into Jira issues,
// partitioned by a configurable rule chain.
package main

import (
	"fmt"
	"os"

	"github.com/openctemio/vulnsync/cmd/vulnsync/cmd"
)

// Version is set by build flags.
var Version = "dev"

func main() {
	cmd.SetVersion(Version)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
