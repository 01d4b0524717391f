package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/donaldgifford/fleet-telemetry/internal/engine"
)

func init() {
	rootCmd.AddCommand(
		jobCommand("poll", engine.JobFleetPoll,
			"Poll the telematics provider once and exit",
			"Requires poll.enabled and provider credentials in the config."),
		jobCommand("refresh", engine.JobAggregateRefresh,
			"Refresh the continuous aggregates once and exit", ""),
		jobCommand("health-check", engine.JobHealthCheck,
			"Run the fleet health checks once and exit", ""),
	)
}

// jobCommand runs one scheduler job in process, taking the same lock and
// writing the same job_runs row as a scheduled run.
func jobCommand(use, job, short, long string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			rows, err := a.scheduler.RunNow(cmd.Context(), job)
			if err != nil {
				return fmt.Errorf("%s: %w", job, err)
			}
			a.log.Info("job complete", "job", job, "rows_affected", rows)
			return nil
		},
	}
}
