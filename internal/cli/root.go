// Package cli implements the wattd command-line interface using Cobra.
// Each subcommand maps to one daemon capability (serve, status, history,
// config).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wattd",
	Short: "wattd — GPU bottleneck QoS daemon",
	Long: `wattd watches GPU utilization and holds a platform power QoS request
while the GPU is the bottleneck, letting CPU power management respond
lazily without hurting ramp-up latency.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// cliVersion is set by Execute and read by subcommands that start the daemon.
var cliVersion = "dev"

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version
	cliVersion = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
