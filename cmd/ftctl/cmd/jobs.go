package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	apiclient "github.com/donaldgifford/fleet-telemetry/internal/api/client"
)

func (c *cli) jobsCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "jobs",
		Short: "View scheduler job history",
		Long: "View the execution history of scheduled jobs (fleet_poll,\n" +
			"aggregate_refresh, health_check). Each run records status, rows\n" +
			"affected and any error.",
	}

	root.AddCommand(
		c.jobsListCmd(),
		c.jobsHistoryCmd(),
		c.jobsScheduleCmd(),
	)
	return root
}

func (c *cli) jobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List latest run per job",
		Example: `  ftctl jobs list
  ftctl jobs list --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := c.newClient().ListJobs(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No job runs found.")
				return nil
			}
			return printJobRunsTable(cmd.OutOrStdout(), runs)
		},
	}
}

func (c *cli) jobsHistoryCmd() *cobra.Command {
	var params apiclient.JobHistoryParams

	cmd := &cobra.Command{
		Use:   "history <job_name>",
		Short: "Show run history for a job",
		Args:  cobra.ExactArgs(1),
		Example: `  ftctl jobs history fleet_poll
  ftctl jobs history aggregate_refresh --limit 50 --output json
  ftctl jobs history health_check --status failed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := c.newClient().GetJobHistory(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), runs)
			}
			if len(runs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No runs found for job %q.\n", args[0])
				return nil
			}
			return printJobRunsTable(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().IntVar(&params.Limit, "limit", 0, "maximum runs (server default 20)")
	cmd.Flags().StringVar(&params.Status, "status", "", "only runs in this state (running, succeeded, failed, crashed)")
	return cmd
}

func (c *cli) jobsScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Show when each job runs next",
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := c.newClient().GetSchedule(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No scheduled jobs.")
				return nil
			}
			tw := newTabWriter(cmd.OutOrStdout())
			tw.writef("JOB\tNEXT RUN\n")
			for _, j := range jobs {
				tw.writef("%s\t%s\n", j.JobName, j.NextRun.Format(timeLayout))
			}
			return tw.finish()
		},
	}
}

func (c *cli) pollCmd() *cobra.Command {
	return c.triggerCmd("poll", "Poll the telematics provider now",
		"Fetch the latest readings for every active device from the provider.",
		(*apiclient.Client).TriggerPoll)
}

func (c *cli) refreshCmd() *cobra.Command {
	return c.triggerCmd("refresh", "Refresh hourly and daily aggregates now",
		"Refresh the continuous aggregates for the recent window.",
		(*apiclient.Client).TriggerAggregateRefresh)
}

func (c *cli) healthCheckCmd() *cobra.Command {
	return c.triggerCmd("health-check", "Run fleet health checks now",
		"Raise alerts for stale devices and rapid SOH drops.",
		(*apiclient.Client).TriggerHealthCheck)
}

type triggerFunc func(*apiclient.Client, context.Context) (*apiclient.TriggerResult, error)

func (c *cli) triggerCmd(use, short, long string, fn triggerFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := fn(c.newClient(), cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d rows).\n", res.Job, res.Status, res.RowsAffected)
			return nil
		},
	}
}
