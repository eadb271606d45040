package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the pulseboard service.
// Environment variables are automatically parsed from the PULSEBOARD_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Storage. DBDriver selects the backend: postgres | sqlite.
	DBDriver    string `envconfig:"DB_DRIVER" default:"postgres"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:""`

	// Workspace source API
	SourceBaseURL  string `envconfig:"SOURCE_BASE_URL" default:""`
	SourceToken    string `envconfig:"SOURCE_TOKEN" default:""`
	SourcePageSize int    `envconfig:"SOURCE_PAGE_SIZE" default:"100"`

	// Optional job-run result backend. Empty disables recording.
	RedisURL         string `envconfig:"REDIS_URL" default:""`
	JobResultTTLSecs int    `envconfig:"JOB_RESULT_TTL_SECONDS" default:"3600"`

	// Refresh scheduling
	CacheRefreshMinutes   int `envconfig:"CACHE_REFRESH_MINUTES" default:"30"`
	ActivityRefreshHours  int `envconfig:"ACTIVITY_REFRESH_HOURS" default:"12"`
	JobTimeoutMinutes     int `envconfig:"JOB_TIMEOUT_MINUTES" default:"30"`
	RefreshMaxRetries     int `envconfig:"REFRESH_MAX_RETRIES" default:"3"`
	RefreshRetryBaseSecs  int `envconfig:"REFRESH_RETRY_BASE_SECONDS" default:"60"`
	CacheMaxAgeMinutes    int `envconfig:"CACHE_MAX_AGE_MINUTES" default:"30"`
	AggregateBackfillDays int `envconfig:"AGGREGATE_BACKFILL_DAYS" default:"0"`

	// Health checking
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`

	// Startup
	BootstrapTimeoutSeconds int `envconfig:"BOOTSTRAP_TIMEOUT_SECONDS" default:"30"`
}

// ResolveDefaults validates the driver choice and derives defaults that
// depend on other fields.
func (c *Config) ResolveDefaults() error {
	switch c.DBDriver {
	case "postgres":
		// DSN presence is checked at open time so tooling can still load config.
	case "sqlite":
		if c.SQLitePath == "" {
			c.SQLitePath = "pulseboard.db"
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.SourcePageSize <= 0 {
		c.SourcePageSize = 100
	}
	return nil
}

// New creates a new Config by parsing environment variables.
// Example: PULSEBOARD_HTTP_PORT, PULSEBOARD_POSTGRES_DSN.
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("PULSEBOARD", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("port", cfg.HTTPPort).
		Str("postgres_dsn_present", boolString(cfg.PostgresDSN != "")).
		Str("source_url", cfg.SourceBaseURL).
		Str("redis_present", boolString(cfg.RedisURL != "")).
		Int("cache_refresh_minutes", cfg.CacheRefreshMinutes).
		Int("activity_refresh_hours", cfg.ActivityRefreshHours).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	cfg := &Config{
		Environment: EnvTesting,
		HTTPPort:    8080,

		DBDriver:   "sqlite",
		SQLitePath: ":memory:",

		SourceBaseURL:  "http://localhost:9999",
		SourcePageSize: 100,

		JobResultTTLSecs:     3600,
		CacheRefreshMinutes:  30,
		ActivityRefreshHours: 12,
		JobTimeoutMinutes:    30,
		RefreshMaxRetries:    3,
		RefreshRetryBaseSecs: 1,
		CacheMaxAgeMinutes:   30,

		HealthIntervalSeconds:     30,
		HealthProbeTimeoutSeconds: 2,

		BootstrapTimeoutSeconds: 30,
	}
	return cfg
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
