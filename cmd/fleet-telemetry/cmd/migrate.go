package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/donaldgifford/fleet-telemetry/internal/config"
	"github.com/donaldgifford/fleet-telemetry/internal/store"
	"github.com/donaldgifford/fleet-telemetry/pkg/logger"
)

const migrateTimeout = 5 * time.Minute

func migrateCommand() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: "Create the hypertables, continuous aggregates and supporting tables.\n" +
			"Safe to run on every deploy; applied migrations are skipped and\n" +
			"concurrent runs wait on an advisory lock.",
		Example: `  fleet-telemetry migrate
  fleet-telemetry migrate --status`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.Driver == config.DriverMemory {
				fmt.Fprintln(cmd.OutOrStdout(), "memory driver has no schema; nothing to migrate")
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
			defer cancel()

			pool, err := pgxpool.New(ctx, cfg.Database.DSN())
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()

			if status {
				states, err := store.MigrationStatus(ctx, pool)
				if err != nil {
					return err
				}
				return printMigrationStates(cmd.OutOrStdout(), states)
			}

			log := logger.Component(logger.New(cfg.Logging.Level, cfg.Logging.Format), "migrate")
			log.Info("running migrations", "host", cfg.Database.Host, "name", cfg.Database.Name)

			applied, err := store.RunMigrations(ctx, pool)
			for _, v := range applied {
				log.Info("applied migration", "version", v)
			}
			if err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			log.Info("migrations complete", "applied", len(applied))
			return nil
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "list migrations and whether each is applied, without applying")
	return cmd
}

func init() {
	rootCmd.AddCommand(migrateCommand())
}

func printMigrationStates(w io.Writer, states []store.MigrationState) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATUS\tAPPLIED AT")
	for _, st := range states {
		if st.Pending() {
			fmt.Fprintf(tw, "%s\tpending\t-\n", st.Version)
			continue
		}
		fmt.Fprintf(tw, "%s\tapplied\t%s\n", st.Version, st.AppliedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
