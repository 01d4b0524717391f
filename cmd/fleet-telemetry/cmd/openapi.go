package cmd

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/donaldgifford/fleet-telemetry/api/openapi"
	"github.com/donaldgifford/fleet-telemetry/internal/config"
	"github.com/donaldgifford/fleet-telemetry/internal/store"
)

func openapiCommand() *cobra.Command {
	var (
		format string
		legacy bool
	)

	c := &cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI document",
		Long: `Print the HTTP API's OpenAPI document without starting the server.

The running server also serves it at /openapi.json with interactive docs at /docs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Parse([]byte("database:\n  driver: memory\n"))
			if err != nil {
				return err
			}
			a := &app{cfg: cfg, log: slog.New(slog.DiscardHandler), store: store.NewMemoryStore()}
			if err := a.buildEngine(); err != nil {
				return err
			}

			out, err := openapi.Encode(registerAPI(echo.New(), a).OpenAPI(), format, legacy)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	c.Flags().StringVar(&format, "format", openapi.FormatYAML, "output format (json, yaml)")
	c.Flags().BoolVar(&legacy, "openapi-3.0", false, "downgrade to OpenAPI 3.0.3")
	return c
}

func init() {
	rootCmd.AddCommand(openapiCommand())
}
