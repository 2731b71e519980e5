// Package config loads application configuration from defaults, a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read by Load.
// Nested keys are separated by a double underscore: STOREFRONT_DATABASE__URL.
const EnvPrefix = "STOREFRONT_"

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	Auth          AuthConfig          `koanf:"auth"`
	CORS          CORSConfig          `koanf:"cors"`
	Backend       BackendConfig       `koanf:"backend"`
	Vouchers      VouchersConfig      `koanf:"vouchers"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Redis         RedisConfig         `koanf:"redis"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	RateLimit         float64       `koanf:"rate_limit"` // requests per second, 0 disables
	RateBurst         int           `koanf:"rate_burst"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AuthConfig contains bearer token validation settings.
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// BackendConfig bounds every call to the data backend.
type BackendConfig struct {
	QueryTimeout time.Duration `koanf:"query_timeout"`
}

// VouchersConfig contains voucher engine settings.
type VouchersConfig struct {
	// NewUserOnError decides eligibility when the completed-orders count fails: "grant" or "deny".
	NewUserOnError string `koanf:"new_user_on_error"`
}

// NotificationsConfig contains notification feed settings.
type NotificationsConfig struct {
	Source          string `koanf:"source"`
	ReadModel       string `koanf:"read_model"`
	WritePolicy     string `koanf:"write_policy"`
	FeedLimit       int    `koanf:"feed_limit"`
	ResyncSchedule  string `koanf:"resync_schedule"`
	CursorStore     string `koanf:"cursor_store"`
	// CursorCacheSize bounds the viewer cursors kept in memory between resyncs.
	CursorCacheSize int    `koanf:"cursor_cache_size"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	URL string `koanf:"url"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			RateLimit:         50,
			RateBurst:         100,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Backend: BackendConfig{
			QueryTimeout: 5 * time.Second,
		},
		Vouchers: VouchersConfig{
			NewUserOnError: "grant",
		},
		Notifications: NotificationsConfig{
			Source:          "combined",
			ReadModel:       "flag",
			WritePolicy:     "confirm",
			FeedLimit:       200,
			ResyncSchedule:  "@every 10m",
			CursorStore:     "postgres",
			CursorCacheSize: 10000,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if non-empty),
// then STOREFRONT_* environment variables. A .env file in the working directory is
// loaded first and never overrides variables that are already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// PathFromEnv returns the config file path from STOREFRONT_CONFIG, if set.
func PathFromEnv() string {
	return os.Getenv(EnvPrefix + "CONFIG")
}

// envKey maps STOREFRONT_NOTIFICATIONS__READ_MODEL to notifications.read_model.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	if s == "CONFIG" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate checks that settings are complete and consistent.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Backend.QueryTimeout <= 0 {
		errs = append(errs, errors.New("backend.query_timeout must be positive"))
	}

	switch c.Vouchers.NewUserOnError {
	case "grant", "deny":
	default:
		errs = append(errs, fmt.Errorf("vouchers.new_user_on_error: unknown value %q", c.Vouchers.NewUserOnError))
	}

	n := c.Notifications
	switch n.Source {
	case "combined", "catalog":
	default:
		errs = append(errs, fmt.Errorf("notifications.source: unknown value %q", n.Source))
	}
	switch n.ReadModel {
	case "flag", "cursor":
	default:
		errs = append(errs, fmt.Errorf("notifications.read_model: unknown value %q", n.ReadModel))
	}
	switch n.WritePolicy {
	case "confirm", "optimistic":
	default:
		errs = append(errs, fmt.Errorf("notifications.write_policy: unknown value %q", n.WritePolicy))
	}
	switch n.CursorStore {
	case "postgres":
	case "redis":
		if n.ReadModel == "cursor" && c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis cursor store"))
		}
	default:
		errs = append(errs, fmt.Errorf("notifications.cursor_store: unknown value %q", n.CursorStore))
	}
	// news and products carry no read flag
	if n.ReadModel == "flag" && n.Source == "catalog" {
		errs = append(errs, errors.New("notifications.read_model flag requires source combined"))
	}
	if n.FeedLimit <= 0 {
		errs = append(errs, errors.New("notifications.feed_limit must be positive"))
	}
	if n.CursorCacheSize < 0 {
		errs = append(errs, errors.New("notifications.cursor_cache_size must not be negative"))
	}

	return errors.Join(errs...)
}
