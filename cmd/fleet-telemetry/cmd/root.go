// Package cmd wires the fleet-telemetry service commands.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Global flags shared by every subcommand.
var (
	cfgFile  string
	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "fleet-telemetry",
	Short: "Collect and analyze electric-vehicle battery telemetry",
	Long: "Ingests CAN battery and GPS telemetry for an electric-vehicle fleet over\n" +
		"HTTP, MQTT and provider polling, stores it in TimescaleDB, raises battery\n" +
		"health alerts and serves dealer-scoped dashboard queries.",
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", envOr("FLEET_CONFIG", "config.yaml"), "config file path (env FLEET_CONFIG)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config; missing is not an error")
	flags.StringVar(&logLevel, "log-level", "", "override logging.level from the config (debug, info, warn, error)")

	rootCmd.AddCommand(versionCommand())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Root returns the command tree, e.g. for generating reference docs.
func Root() *cobra.Command {
	return rootCmd
}

// Execute runs the command named by os.Args.
func Execute() error {
	return rootCmd.Execute()
}
