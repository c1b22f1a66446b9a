package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/charlesng35/dbcache/internal/database"
)

// Config represents the runtime configuration for the dbcache server.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver       string       `mapstructure:"driver"`
	Path         string       `mapstructure:"path"`
	DSN          string       `mapstructure:"dsn"`
	MaxOpenConns int          `mapstructure:"max_open_conns"`
	Postgres     DBAuthConfig `mapstructure:"postgres"`
	MySQL        DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig tunes the entry store.
type CacheConfig struct {
	// ConflictTarget is auto, on or off. Auto follows the database dialect.
	ConflictTarget string `mapstructure:"conflict_target"`
	BatchSize      int    `mapstructure:"batch_size"`
}

// MaintenanceConfig controls the background touch flush and stale entry sweep.
type MaintenanceConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	TouchSchedule  string        `mapstructure:"touch_schedule"`
	SweepSchedule  string        `mapstructure:"sweep_schedule"`
	MaxIdle        time.Duration `mapstructure:"max_idle"`
	SweepBatchSize int           `mapstructure:"sweep_batch_size"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig configures the fixed window limiter on the API group.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// LoadConfig reads config.yaml from ./config and the given paths, then applies DBCACHE_ environment
// overrides. A missing file is not an error.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("DBCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings that cannot be served.
func (c *Config) Validate() error {
	mode := strings.ToLower(strings.TrimSpace(c.Cache.ConflictTarget))
	switch mode {
	case "", ConflictTargetAuto, ConflictTargetOn, ConflictTargetOff:
	default:
		return fmt.Errorf("config: cache.conflict_target must be auto, on or off (got %q)", c.Cache.ConflictTarget)
	}
	if mode == ConflictTargetOff && c.Database.ConnectionConfig().Driver == database.DialectPostgres {
		return errors.New("config: cache.conflict_target cannot be off on postgres")
	}

	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return errors.New("config: rate_limit.requests and rate_limit.window must be positive")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/dbcache.sqlite")
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.mysql.port", 3306)

	v.SetDefault("cache.conflict_target", ConflictTargetAuto)
	v.SetDefault("cache.batch_size", 1000)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.touch_schedule", "@every 30s")
	v.SetDefault("maintenance.sweep_schedule", "@every 5m")
	v.SetDefault("maintenance.max_idle", "336h") // 14 days
	v.SetDefault("maintenance.sweep_batch_size", 1000)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
	v.SetDefault("monitoring.health_check.timeout", "2s")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests", 300)
	v.SetDefault("rate_limit.window", "1m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
