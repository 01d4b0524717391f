package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) devicesCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "devices",
		Short: "Inspect fleet devices",
		Long: "List devices visible to the caller's scope and show the newest\n" +
			"battery and GPS reading for one device.",
	}

	root.AddCommand(
		c.devicesListCmd(),
		c.devicesLatestCmd(),
	)
	return root
}

func (c *cli) devicesListCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List devices with their latest SOC and SOH",
		Example: `  ftctl devices list
  ftctl devices list --limit 100 --offset 100
  ftctl devices list --role dealer --dealer dealer-a --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := c.newClient().ListDevices(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), resp)
			}
			if len(resp.Devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No devices found.")
				return nil
			}
			return printDevicesTable(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "page size (server default 50, max 200)")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func (c *cli) devicesLatestCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "latest <device_id>",
		Short:   "Show the newest readings for a device",
		Args:    cobra.ExactArgs(1),
		Example: `  ftctl devices latest 866123045678901`,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := c.newClient().Latest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), l)
			}
			return printLatest(cmd.OutOrStdout(), l)
		},
	}
}

func (c *cli) fleetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Show fleet KPIs",
		Example: `  ftctl overview
  ftctl overview --role dealer --dealer dealer-a`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := c.newClient().FleetOverview(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), o)
			}
			return printOverview(cmd.OutOrStdout(), o)
		},
	}
}
