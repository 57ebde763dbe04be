// purelink bridges a Dyson Pure Link air purifier to a home automation host.
//
// The bridge logs in to the purifier's own MQTT broker, polls it for state
// and sensor readings, mirrors them into host channels stored in SQLite and
// serves those channels over HTTP and WebSocket. Host commands posted to the
// API are translated into device STATE-SET messages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is used when neither --config nor PURELINK_CONFIG is set.
const defaultConfigPath = "configs/purelink.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root with no subcommand
// starts the bridge.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "purelink",
		Short:         "Bridge a Dyson Pure Link purifier to a home automation host",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", getConfigPath(),
		"config file path (PURELINK_CONFIG); empty reads the environment only")

	root.AddCommand(
		newRunCmd(&configPath),
		newSimulateCmd(),
		newCredentialCmd(),
		newTokenCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

// getConfigPath returns the configuration file path.
// Uses PURELINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path, ok := os.LookupEnv("PURELINK_CONFIG"); ok {
		return path
	}
	return defaultConfigPath
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bridge (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *configPath)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "purelink %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
