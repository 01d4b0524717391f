// Package cmd implements the ftctl CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apiclient "github.com/donaldgifford/fleet-telemetry/internal/api/client"
)

// cli carries per-invocation settings so commands can be built more than
// once in tests.
type cli struct {
	v       *viper.Viper
	cfgFile string
}

// NewRootCmd builds the ftctl command tree.
func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "ftctl",
		Short: "CLI client for Fleet Telemetry",
		Long: "ftctl is a command-line client for the fleet-telemetry API.\n" +
			"It lists devices and alerts, acknowledges alerts, manages alert\n" +
			"thresholds and triggers polls and aggregate refreshes.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.initConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default $HOME/.ftctl.yaml)")
	flags.String("server", "http://localhost:8080", "API server URL")
	flags.String("output", "table", "output format (table, json)")
	flags.String("role", "owner", "caller role sent as X-Fleet-Role (owner, dealer)")
	flags.String("dealer", "", "dealer id sent as X-Fleet-Dealer-ID")
	flags.String("user", "", "acting user sent as X-Fleet-User")

	for _, name := range []string{"server", "output", "role", "dealer", "user"} {
		cobra.CheckErr(c.v.BindPFlag(name, flags.Lookup(name)))
	}

	root.AddCommand(
		c.devicesCmd(),
		c.alertsCmd(),
		c.fleetCmd(),
		c.pollCmd(),
		c.refreshCmd(),
		c.healthCheckCmd(),
		c.jobsCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func (c *cli) initConfig(cmd *cobra.Command) error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		c.v.AddConfigPath(home)
		c.v.SetConfigType("yaml")
		c.v.SetConfigName(".ftctl")
	}

	c.v.SetEnvPrefix("FTCTL")
	c.v.AutomaticEnv()

	if err := c.v.ReadInConfig(); err == nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Using config file:", c.v.ConfigFileUsed())
	} else if c.cfgFile != "" {
		return fmt.Errorf("reading config %s: %w", c.cfgFile, err)
	}

	switch c.v.GetString("output") {
	case "table", "json":
	default:
		return fmt.Errorf("unknown output format %q (want table or json)", c.v.GetString("output"))
	}
	return nil
}

func (c *cli) newClient() *apiclient.Client {
	return apiclient.New(c.v.GetString("server"),
		apiclient.WithScope(c.v.GetString("role"), c.v.GetString("dealer")),
		apiclient.WithUser(c.v.GetString("user")),
	)
}

func (c *cli) jsonOutput() bool {
	return c.v.GetString("output") == "json"
}
