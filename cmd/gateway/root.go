package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Gateway - a unified AI backend gateway",
	Long: `Gateway is a unified AI backend gateway that fronts heterogeneous HTTP
and CLI-subprocess AI providers behind one REST and WebSocket surface.

It provides:
  - A priority request queue with a bounded dispatch worker pool
  - A durable state store surviving process restarts
  - Per-provider health monitoring and degraded-provider detection
  - A multi-round propose/review/revise/summarize discussion orchestrator
  - Real-time event fan-out over WebSocket

For more information, see DESIGN.md and SPEC_FULL.md in the repository.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.CompletionOptions.DisableDefaultCmd = false
}
