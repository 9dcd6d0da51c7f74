package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. SECTIONLOCK_SERVER_PORT.
const EnvPrefix = "SECTIONLOCK"

// Config represents the runtime configuration for the sectionlock server.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Collab     CollabConfig     `mapstructure:"collab"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	LogLevel        string          `mapstructure:"log_level"`
	LogEncoding     string          `mapstructure:"log_encoding"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string        `mapstructure:"allowed_origins"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig caps requests per client address. API applies to the REST
// routes and Connect to WebSocket handshakes.
type RateLimitConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	API     RateRule `mapstructure:"api"`
	Connect RateRule `mapstructure:"connect"`
}

// RateRule allows Requests per Window. Zero requests means unlimited.
type RateRule struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// AuthConfig captures authentication settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// CollabConfig tunes document channels and lock housekeeping.
type CollabConfig struct {
	// IdleLockTimeout releases locks not refreshed for this long. Zero keeps locks
	// until they are released or their holder disconnects.
	IdleLockTimeout      time.Duration `mapstructure:"idle_lock_timeout"`
	SweepSchedule        string        `mapstructure:"sweep_schedule"`
	SendBuffer           int           `mapstructure:"send_buffer"`
	MaxMessageSize       int64         `mapstructure:"max_message_size"`
	PongWait             time.Duration `mapstructure:"pong_wait"`
	HistoryRetentionDays int           `mapstructure:"history_retention_days"`
	HistoryBuffer        int           `mapstructure:"history_buffer"`
	RetentionSchedule    string        `mapstructure:"retention_schedule"`
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

// LoadConfig initialises application configuration using Viper with sensible defaults.
// Extra search paths are consulted after ./config. A path ending in .yaml or .yml
// is read as an explicit file.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		lower := strings.ToLower(path)
		if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
			v.SetConfigFile(path)
			continue
		}
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
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

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}
	for name, rule := range map[string]RateRule{"api": c.Server.RateLimit.API, "connect": c.Server.RateLimit.Connect} {
		if rule.Requests < 0 || rule.Window < 0 {
			return fmt.Errorf("config: server.rate_limit.%s must not be negative", name)
		}
	}
	if c.Collab.IdleLockTimeout < 0 {
		return errors.New("config: collab.idle_lock_timeout must not be negative")
	}
	if c.Collab.HistoryRetentionDays < 0 {
		return errors.New("config: collab.history_retention_days must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_encoding", "json")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.api.requests", 120)
	v.SetDefault("server.rate_limit.api.window", "1m")
	v.SetDefault("server.rate_limit.connect.requests", 30)
	v.SetDefault("server.rate_limit.connect.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/sectionlock.sqlite")

	v.SetDefault("auth.jwt.issuer", "sectionlock")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")

	v.SetDefault("collab.idle_lock_timeout", "0s")
	v.SetDefault("collab.sweep_schedule", "@every 30s")
	v.SetDefault("collab.send_buffer", 64)
	v.SetDefault("collab.max_message_size", 64*1024)
	v.SetDefault("collab.pong_wait", "60s")
	v.SetDefault("collab.history_retention_days", 30)
	v.SetDefault("collab.history_buffer", 1024)
	v.SetDefault("collab.retention_schedule", "0 3 * * *")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
	v.SetDefault("monitoring.health_check.timeout", "3s")
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
