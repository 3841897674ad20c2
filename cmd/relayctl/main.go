// Command relayctl is a small demonstration harness for the relaydb
// engine (spec §6.6 "None at the core layer" — this is not a product
// surface, it carries no persistence of its own). It spins up in-memory
// fixture collections, runs a live query over them, and prints the
// resulting change feed; or parses a tiny JSON query description and
// dumps its IR fingerprint.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaydb/relaydb/internal/telemetry"
)

var (
	telemetryEnabled  bool
	telemetryShutdown telemetry.Shutdown
)

var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Demo harness for the relaydb incremental query engine",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !telemetryEnabled {
			return nil
		}
		shutdown, err := telemetry.Init(os.Stderr)
		if err != nil {
			return err
		}
		telemetryShutdown = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if telemetryShutdown == nil {
			return nil
		}
		return telemetryShutdown(context.Background())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&telemetryEnabled, "telemetry", false,
		"print engine spans and metrics to stderr as they're recorded")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
