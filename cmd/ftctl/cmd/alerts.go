package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	apiclient "github.com/donaldgifford/fleet-telemetry/internal/api/client"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

func (c *cli) alertsCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "alerts",
		Short: "List, acknowledge and configure alerts",
		Long: "Work with battery alerts raised by ingestion and the scheduled\n" +
			"health checks, and manage the alert threshold configuration.",
	}

	root.AddCommand(
		c.alertsListCmd(),
		c.alertsAckCmd(),
		c.alertsConfigCmd(),
	)
	return root
}

func (c *cli) alertsListCmd() *cobra.Command {
	var (
		params  apiclient.ListAlertsParams
		unacked bool
		acked   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts newest first",
		Example: `  ftctl alerts list --unacknowledged
  ftctl alerts list --device 866123045678901 --limit 50`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if unacked && acked {
				return fmt.Errorf("--acknowledged and --unacknowledged are mutually exclusive")
			}
			switch {
			case unacked:
				params.Acknowledged = ptr(false)
			case acked:
				params.Acknowledged = ptr(true)
			}

			alerts, err := c.newClient().ListAlerts(cmd.Context(), &params)
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), alerts)
			}
			if len(alerts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No alerts found.")
				return nil
			}
			return printAlertsTable(cmd.OutOrStdout(), alerts)
		},
	}

	cmd.Flags().StringVar(&params.DeviceID, "device", "", "only alerts for this device")
	cmd.Flags().IntVar(&params.Limit, "limit", 0, "maximum alerts (server default 20)")
	cmd.Flags().BoolVar(&unacked, "unacknowledged", false, "only open alerts")
	cmd.Flags().BoolVar(&acked, "acknowledged", false, "only acknowledged alerts")
	return cmd
}

func (c *cli) alertsAckCmd() *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "ack <alert_id>",
		Short: "Acknowledge an alert",
		Args:  cobra.ExactArgs(1),
		Example: `  ftctl alerts ack 2b0c6a4e-1f0e-4c1e-9a55-3f5f6d1c2a10 --notes "pack swapped"
  ftctl alerts ack 2b0c6a4e-1f0e-4c1e-9a55-3f5f6d1c2a10 --user priya`,
		RunE: func(cmd *cobra.Command, args []string) error {
			alert, err := c.newClient().AcknowledgeAlert(cmd.Context(), args[0], notes)
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), alert)
			}
			by := "-"
			if alert.AcknowledgedBy != nil {
				by = *alert.AcknowledgedBy
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Alert %s acknowledged by %s.\n", alert.ID, by)
			return nil
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "resolution notes")
	return cmd
}

func (c *cli) alertsConfigCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "config",
		Short: "Show or replace alert thresholds",
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Show the active thresholds",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := c.newClient().GetAlertConfig(cmd.Context())
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return outputJSON(cmd.OutOrStdout(), cfg)
				}
				return printAlertConfig(cmd.OutOrStdout(), cfg)
			},
		},
		c.alertsConfigSetCmd(),
	)
	return root
}

func (c *cli) alertsConfigSetCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the thresholds from a YAML or JSON file",
		Long: "Replace the whole alert threshold set. The file maps keys such as\n" +
			"low_soc or high_temp to {value, severity, label}. Owner scope only.",
		Example: `  ftctl alerts config set -f thresholds.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readAlertConfig(file)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid alert config: %w", err)
			}

			out, err := c.newClient().SetAlertConfig(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Alert config replaced (%d thresholds).\n", len(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "threshold file (YAML or JSON)")
	cobra.CheckErr(cmd.MarkFlagRequired("file"))
	return cmd
}

// readAlertConfig parses YAML, which also accepts JSON documents.
func readAlertConfig(path string) (domain.AlertConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Round-trip through JSON so the domain's json tags apply.
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var cfg domain.AlertConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return cfg, nil
}

func ptr[T any](v T) *T { return &v }
