// Package config handles loading and validating the application configuration
// from YAML files with environment variable substitution.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/donaldgifford/fleet-telemetry/pkg/quality"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the top-level application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Provider      ProviderConfig      `yaml:"provider"`
	Poll          PollConfig          `yaml:"poll"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Validation    ValidationConfig    `yaml:"validation"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig defines the Echo HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig defines TimescaleDB connection settings. The memory driver
// keeps everything in process and ignores the connection fields.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres, memory
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	PoolSize int    `yaml:"pool_size"`
}

// DSN returns a PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s pool_max_conns=%d",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode, d.PoolSize,
	)
}

// RedisConfig enables the latest-reading cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// Enabled reports whether a Redis address is configured.
func (r *RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// MQTTConfig defines the optional push ingestion subscriber.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	CANTopic string `yaml:"can_topic"`
	GPSTopic string `yaml:"gps_topic"`
	QoS      byte   `yaml:"qos"`
}

// ProviderConfig defines the telematics provider API settings.
type ProviderConfig struct {
	BaseURL   string          `yaml:"base_url"`
	Username  string          `yaml:"username"`
	Password  string          `yaml:"password"`
	Timeout   time.Duration   `yaml:"timeout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Enabled reports whether the provider is configured for polling.
func (p *ProviderConfig) Enabled() bool {
	return p.BaseURL != ""
}

// RateLimitConfig defines provider API rate limiting settings.
type RateLimitConfig struct {
	PerSecond  float64 `yaml:"per_second"`
	Burst      int     `yaml:"burst"`
	DailyLimit int64   `yaml:"daily_limit"`
}

// PollConfig defines fleet poll behavior.
type PollConfig struct {
	Enabled     bool `yaml:"enabled"`
	Concurrency int  `yaml:"concurrency"`
}

// ScheduleConfig defines cron intervals. A zero interval after defaults is
// impossible; disable polling with poll.enabled instead.
type ScheduleConfig struct {
	PollInterval        time.Duration `yaml:"poll_interval"`
	AggregateInterval   time.Duration `yaml:"aggregate_interval"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// IngestConfig defines batch ingestion behavior.
type IngestConfig struct {
	RetryAttempts      int           `yaml:"retry_attempts"`
	RetryInterval      time.Duration `yaml:"retry_interval"`
	AuditGPSRejections bool          `yaml:"audit_gps_rejections"`
	RejectSampleLimit  int           `yaml:"reject_sample_limit"`
}

// ValidationConfig defines the CAN reading sanity bounds.
type ValidationConfig struct {
	Bounds      quality.Bounds `yaml:"bounds"`
	RejectEmpty bool           `yaml:"reject_empty"`
}

// Validator builds a quality.Validator from the configured bounds.
func (v *ValidationConfig) Validator() *quality.Validator {
	return &quality.Validator{Bounds: v.Bounds, RejectEmpty: v.RejectEmpty}
}

// AlertsConfig defines alert behavior.
type AlertsConfig struct {
	Cooldown time.Duration `yaml:"cooldown"` // default: 15m
}

// NotificationsConfig defines notification targets.
type NotificationsConfig struct {
	Discord DiscordConfig `yaml:"discord"`
}

// DiscordConfig defines Discord webhook settings.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	// Username overrides the webhook's display name when set.
	Username string `yaml:"username"`
}

// TracingConfig enables OTLP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Insecure    bool    `yaml:"insecure"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads and parses a YAML config file, performing environment variable
// substitution and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // config path from trusted CLI flag
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, expanding environment variables and
// applying defaults before validation.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyRedisDefaults(&cfg.Redis)
	applyMQTTDefaults(&cfg.MQTT)
	applyProviderDefaults(&cfg.Provider)
	applyPollDefaults(&cfg.Poll)
	applyScheduleDefaults(&cfg.Schedule)
	applyIngestDefaults(&cfg.Ingest)
	applyValidationDefaults(&cfg.Validation)
	applyAlertsDefaults(&cfg.Alerts)
	applyTracingDefaults(&cfg.Tracing)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(s *ServerConfig) {
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 60 * time.Second
	}
}

func applyDatabaseDefaults(d *DatabaseConfig) {
	if d.Driver == "" {
		d.Driver = DriverPostgres
	}
	if d.Port == 0 {
		d.Port = 5432
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}
	if d.PoolSize == 0 {
		d.PoolSize = 10
	}
}

func applyRedisDefaults(r *RedisConfig) {
	if r.Prefix == "" {
		r.Prefix = "fleet"
	}
	if r.TTL == 0 {
		r.TTL = 24 * time.Hour
	}
}

func applyMQTTDefaults(m *MQTTConfig) {
	if m.ClientID == "" {
		m.ClientID = "fleet-telemetry"
	}
	if m.CANTopic == "" {
		m.CANTopic = "fleet/+/can"
	}
	if m.GPSTopic == "" {
		m.GPSTopic = "fleet/+/gps"
	}
	if m.QoS == 0 {
		m.QoS = 1
	}
}

func applyProviderDefaults(p *ProviderConfig) {
	if p.Timeout == 0 {
		p.Timeout = 30 * time.Second
	}
	applyRateLimitDefaults(&p.RateLimit)
}

func applyRateLimitDefaults(r *RateLimitConfig) {
	if r.PerSecond == 0 {
		r.PerSecond = 5.0
	}
	if r.Burst == 0 {
		r.Burst = 10
	}
	if r.DailyLimit == 0 {
		r.DailyLimit = 50000
	}
}

func applyPollDefaults(p *PollConfig) {
	if p.Concurrency == 0 {
		p.Concurrency = 10
	}
}

func applyScheduleDefaults(s *ScheduleConfig) {
	if s.PollInterval == 0 {
		s.PollInterval = 30 * time.Minute
	}
	if s.AggregateInterval == 0 {
		s.AggregateInterval = 30 * time.Minute
	}
	if s.HealthCheckInterval == 0 {
		s.HealthCheckInterval = time.Hour
	}
}

func applyIngestDefaults(i *IngestConfig) {
	if i.RetryAttempts == 0 {
		i.RetryAttempts = 3
	}
	if i.RetryInterval == 0 {
		i.RetryInterval = 200 * time.Millisecond
	}
	if i.RejectSampleLimit == 0 {
		i.RejectSampleLimit = 5
	}
}

func applyValidationDefaults(v *ValidationConfig) {
	def := quality.DefaultBounds()
	for _, r := range []struct {
		got *quality.Range
		def quality.Range
	}{
		{&v.Bounds.SOC, def.SOC},
		{&v.Bounds.Voltage, def.Voltage},
		{&v.Bounds.Current, def.Current},
		{&v.Bounds.Temperature, def.Temperature},
	} {
		if *r.got == (quality.Range{}) {
			*r.got = r.def
		}
	}
}

func applyAlertsDefaults(a *AlertsConfig) {
	if a.Cooldown == 0 {
		a.Cooldown = 15 * time.Minute
	}
}

func applyTracingDefaults(t *TracingConfig) {
	if t.ServiceName == "" {
		t.ServiceName = "fleet-telemetry"
	}
	if t.SampleRatio == 0 {
		t.SampleRatio = 1
	}
}

func applyLoggingDefaults(l *LoggingConfig) {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

func validate(cfg *Config) error {
	var errs []error

	switch cfg.Database.Driver {
	case DriverPostgres:
		if cfg.Database.Host == "" {
			errs = append(errs, errors.New("database.host is required"))
		}
		if cfg.Database.Name == "" {
			errs = append(errs, errors.New("database.name is required"))
		}
		if cfg.Database.User == "" {
			errs = append(errs, errors.New("database.user is required"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf(
			"database.driver must be one of: postgres, memory (got %q)", cfg.Database.Driver))
	}

	if cfg.Poll.Enabled {
		if !cfg.Provider.Enabled() {
			errs = append(errs, errors.New("provider.base_url is required when poll is enabled"))
		}
		if cfg.Provider.Username == "" || cfg.Provider.Password == "" {
			errs = append(errs, errors.New("provider.username and provider.password are required when poll is enabled"))
		}
	}
	if cfg.Poll.Concurrency < 5 || cfg.Poll.Concurrency > 20 {
		errs = append(errs, fmt.Errorf("poll.concurrency must be between 5 and 20 (got %d)", cfg.Poll.Concurrency))
	}

	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if cfg.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1, or 2 (got %d)", cfg.MQTT.QoS))
	}

	if cfg.Notifications.Discord.Enabled && cfg.Notifications.Discord.WebhookURL == "" {
		errs = append(errs, errors.New("notifications.discord.webhook_url is required when discord is enabled"))
	}

	b := cfg.Validation.Bounds
	for _, r := range []struct {
		name string
		quality.Range
	}{
		{"soc", b.SOC}, {"voltage", b.Voltage}, {"current", b.Current}, {"temperature", b.Temperature},
	} {
		if r.Min > r.Max {
			errs = append(errs, fmt.Errorf("validation.bounds.%s: min %v exceeds max %v", r.name, r.Min, r.Max))
		}
	}

	if cfg.Ingest.RetryAttempts < 0 {
		errs = append(errs, errors.New("ingest.retry_attempts must not be negative"))
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be in [0, 1] (got %v)", cfg.Tracing.SampleRatio))
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json (got %q)", cfg.Logging.Format))
	}

	return errors.Join(errs...)
}
