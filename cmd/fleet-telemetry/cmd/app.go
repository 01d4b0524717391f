package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/donaldgifford/fleet-telemetry/internal/cache"
	"github.com/donaldgifford/fleet-telemetry/internal/config"
	"github.com/donaldgifford/fleet-telemetry/internal/engine"
	"github.com/donaldgifford/fleet-telemetry/internal/notify"
	"github.com/donaldgifford/fleet-telemetry/internal/store"
	"github.com/donaldgifford/fleet-telemetry/internal/telematics"
	"github.com/donaldgifford/fleet-telemetry/pkg/logger"
)

const connectTimeout = 30 * time.Second

// app holds the wired service components shared by serve and the one-shot
// job commands.
type app struct {
	cfg *config.Config
	log *slog.Logger

	store      store.Store
	cache      *cache.LatestCache
	ingester   *engine.Ingester
	alerts     *engine.AlertEngine
	aggregator *engine.Aggregator
	poller     *engine.Poller
	scheduler  *engine.Scheduler

	closers []func()
}

// loadConfig reads the dotenv file then the YAML config, and applies the
// --log-level override.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg: cfg,
		log: logger.New(cfg.Logging.Level, cfg.Logging.Format),
	}
	slog.SetDefault(a.log)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openCache(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.buildEngine(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.Database.Driver == "memory" {
		a.log.Warn("using in-memory store; data is lost on exit")
		a.store = store.NewMemoryStore()
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pg, err := store.NewPostgresStore(ctx, a.cfg.Database.DSN(), int32(a.cfg.Database.PoolSize)) //nolint:gosec // bounded by config validation
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	a.log.Info("connected to database", "host", a.cfg.Database.Host, "name", a.cfg.Database.Name)
	a.store = pg
	a.closers = append(a.closers, pg.Close)
	return nil
}

func (a *app) openCache(ctx context.Context) error {
	rc := a.cfg.Redis
	if !rc.Enabled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := cache.Connect(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	a.closers = append(a.closers, func() { closeRedis(a.log, client) })
	a.cache = cache.New(client, cache.WithPrefix(rc.Prefix), cache.WithTTL(rc.TTL))
	a.log.Info("latest-reading cache enabled", "addr", rc.Addr)
	return nil
}

func (a *app) buildEngine() error {
	cfg := a.cfg

	notifyLog := logger.Component(a.log, "notify")
	var notifier notify.Notifier = notify.NewLogNotifier(notifyLog)
	if d := cfg.Notifications.Discord; d.Enabled {
		notifier = notify.NewDiscordNotifier(d.WebhookURL,
			notify.WithUsername(d.Username),
			notify.WithLogger(notifyLog),
		)
	}

	a.alerts = engine.NewAlertEngine(a.store, notifier,
		engine.WithCooldown(cfg.Alerts.Cooldown),
		engine.WithAlertLogger(logger.Component(a.log, "alerts")),
	)

	ingestOpts := []engine.IngesterOption{
		engine.WithIngestLogger(logger.Component(a.log, "ingest")),
		engine.WithValidator(cfg.Validation.Validator()),
		engine.WithAlertEngine(a.alerts),
		engine.WithRetry(cfg.Ingest.RetryAttempts, cfg.Ingest.RetryInterval),
		engine.WithGPSAudit(cfg.Ingest.AuditGPSRejections),
		engine.WithRejectSampleLimit(cfg.Ingest.RejectSampleLimit),
	}
	if a.cache != nil {
		ingestOpts = append(ingestOpts, engine.WithLatestCache(a.cache))
	}
	a.ingester = engine.NewIngester(a.store, ingestOpts...)

	a.aggregator = engine.NewAggregator(a.store, engine.WithAggregatorLogger(logger.Component(a.log, "aggregator")))

	jobs := []engine.Job{
		engine.AggregateJob(a.aggregator, cfg.Schedule.AggregateInterval),
		engine.HealthCheckJob(a.alerts, cfg.Schedule.HealthCheckInterval),
	}

	if cfg.Poll.Enabled {
		limiter := telematics.NewRateLimiter(
			cfg.Provider.RateLimit.PerSecond,
			cfg.Provider.RateLimit.Burst,
			cfg.Provider.RateLimit.DailyLimit,
		)
		src := telematics.NewHTTPSource(cfg.Provider.BaseURL, cfg.Provider.Username, cfg.Provider.Password,
			telematics.WithTimeout(cfg.Provider.Timeout),
			telematics.WithRateLimiter(limiter),
			telematics.WithLogger(logger.Component(a.log, "telematics")),
		)
		a.poller = engine.NewPoller(src, a.ingester,
			engine.WithConcurrency(cfg.Poll.Concurrency),
			engine.WithPollInterval(cfg.Schedule.PollInterval),
			engine.WithPollLogger(logger.Component(a.log, "poller")),
		)
		jobs = append(jobs, engine.PollJob(a.poller, cfg.Schedule.PollInterval))
	}

	sched, err := engine.NewScheduler(a.store, logger.Component(a.log, "scheduler"), jobs...)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	a.scheduler = sched
	return nil
}

// close releases connections in reverse order of opening.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func closeRedis(log *slog.Logger, c *redis.Client) {
	if err := c.Close(); err != nil {
		log.Warn("closing redis client", "error", err)
	}
}
