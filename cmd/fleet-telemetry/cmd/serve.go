package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humaecho"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/donaldgifford/fleet-telemetry/internal/api/handlers"
	"github.com/donaldgifford/fleet-telemetry/internal/api/middleware"
	"github.com/donaldgifford/fleet-telemetry/internal/tracing"
	"github.com/donaldgifford/fleet-telemetry/internal/transport/mqtt"
	"github.com/donaldgifford/fleet-telemetry/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and scheduler",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	log := a.log

	tp, shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    a.cfg.Tracing.Endpoint,
		ServiceName: a.cfg.Tracing.ServiceName,
		Version:     Version,
		SampleRatio: a.cfg.Tracing.SampleRatio,
		Insecure:    a.cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("flushing traces", "error", err)
		}
	}()

	e := newServer(a, tp)

	var sub *mqtt.Subscriber
	if a.cfg.MQTT.Enabled {
		sub = mqtt.NewSubscriber(a.cfg.MQTT, a.ingester, mqtt.WithLogger(logger.Component(log, "mqtt")))
		if err := sub.Start(ctx); err != nil {
			return fmt.Errorf("starting mqtt subscriber: %w", err)
		}
		defer sub.Stop()
	}

	a.scheduler.RecoverStaleJobRuns(ctx)
	a.scheduler.Start()

	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	log.Info("starting server", "addr", addr, "version", Version)

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error("server error", "error", err)
		}
	}

	log.Info("shutting down server")

	// Wait for running jobs before closing the store.
	<-a.scheduler.Stop().Done()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	log.Info("server stopped")
	return nil
}

// newServer builds the Echo instance with middleware, probes and the API.
func newServer(a *app, tp trace.TracerProvider) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = a.cfg.Server.ReadTimeout
	e.Server.WriteTimeout = a.cfg.Server.WriteTimeout

	// Recovery runs innermost so a panic is logged, counted and marked on
	// the request span before the outer middleware see the 500.
	e.Use(
		middleware.Tracing(tp),
		middleware.RequestLog(a.log),
		middleware.Metrics(),
		middleware.Recovery(a.log),
	)

	extra := map[string]handlers.Pinger{}
	if a.cache != nil {
		extra["cache"] = a.cache
	}
	health := handlers.NewHealthHandler(a.store, extra)
	e.GET("/healthz", health.Healthz)
	e.GET("/readyz", health.Readyz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	registerAPI(e, a)
	return e
}

// registerAPI mounts every API route on huma and returns the API so its
// OpenAPI document can be exported.
func registerAPI(e *echo.Echo, a *app) huma.API {
	humaCfg := huma.DefaultConfig("Fleet Telemetry API", Version)
	humaCfg.Info.Description = "Battery and GPS telemetry ingestion, alerting and dealer-scoped fleet analytics."
	api := humaecho.New(e, humaCfg)

	handlers.RegisterIngestRoutes(api, handlers.NewIngestHandler(a.ingester, a.log))

	devOpts := []handlers.DevicesOption{handlers.WithDevicesLogger(a.log)}
	if a.cache != nil {
		devOpts = append(devOpts, handlers.WithLatestReader(a.cache))
	}
	handlers.RegisterDeviceRoutes(api, handlers.NewDevicesHandler(a.store, devOpts...))
	handlers.RegisterAlertRoutes(api, handlers.NewAlertsHandler(a.store, nil, a.log))
	handlers.RegisterFleetRoutes(api, handlers.NewFleetHandler(a.store, nil, a.log))
	handlers.RegisterTriggerRoutes(api, handlers.NewTriggerHandler(a.scheduler))
	handlers.RegisterJobRoutes(api, handlers.NewJobsHandler(a.store, a.scheduler))

	return api
}
