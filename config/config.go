// Package config loads service configuration from built-in defaults, an optional
// YAML file and environment variables (highest priority). A .env file in the
// working directory is loaded into the environment first.
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
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	ClickHouse ClickHouseConfig `koanf:"clickhouse"`
	Session    SessionConfig    `koanf:"session"`
	Tracking   TrackingConfig   `koanf:"tracking"`
	Feeds      FeedConfig       `koanf:"feeds"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	Logging    LoggingConfig    `koanf:"logging"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	Mode            string        `koanf:"mode"`
	AllowedOrigin   string        `koanf:"allowed_origin"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver          string        `koanf:"driver"`
	DatabaseURL     string        `koanf:"database_url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	NotifyChannel   string        `koanf:"notify_channel"`
}

type ClickHouseConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Host          string        `koanf:"host"`
	NativePort    int           `koanf:"native_port"`
	Database      string        `koanf:"database"`
	Username      string        `koanf:"username"`
	Password      string        `koanf:"password"`
	BufferSize    int           `koanf:"buffer_size"`
	BatchSize     int           `koanf:"batch_size"`
	FlushInterval time.Duration `koanf:"flush_interval"`
}

type SessionConfig struct {
	Secret       string        `koanf:"secret"`
	StateDir     string        `koanf:"state_dir"`
	SessionTTL   time.Duration `koanf:"session_ttl"`
	VisitorTTL   time.Duration `koanf:"visitor_ttl"`
	CookieSecure bool          `koanf:"cookie_secure"`
	IPHashKey    string        `koanf:"ip_hash_key"`
}

type TrackingConfig struct {
	Workers          int           `koanf:"workers"`
	QueueSize        int           `koanf:"queue_size"`
	WriteTimeout     time.Duration `koanf:"write_timeout"`
	PossibleKeywords []string      `koanf:"possible_keywords"`
}

type FeedConfig struct {
	SearchVisitorWindow int `koanf:"search_visitor_window"`
	RecentWindow        int `koanf:"recent_window"`
	TopButtons          int `koanf:"top_buttons"`
}

type RateLimitConfig struct {
	Enabled bool          `koanf:"enabled"`
	Burst   int           `koanf:"burst"`
	Every   time.Duration `koanf:"every"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Mode:            "debug",
			AllowedOrigin:   "http://localhost:3000",
			ShutdownTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Driver:          "memory",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			NotifyChannel:   "document_changes",
		},
		ClickHouse: ClickHouseConfig{
			Enabled:       false,
			NativePort:    9000,
			BufferSize:    4096,
			BatchSize:     500,
			FlushInterval: 5 * time.Second,
		},
		Session: SessionConfig{
			SessionTTL: 30 * time.Minute,
			VisitorTTL: 365 * 24 * time.Hour,
		},
		Tracking: TrackingConfig{
			Workers:      4,
			QueueSize:    1024,
			WriteTimeout: 10 * time.Second,
			PossibleKeywords: []string{
				"禁忌之美", "禁忌之美鍾佳播", "禁忌之美鍾佳播募資", "禁忌之美募資", "鍾佳播電影",
			},
		},
		Feeds: FeedConfig{
			SearchVisitorWindow: 50,
			RecentWindow:        100,
			TopButtons:          10,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Burst:   5,
			Every:   10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads .env, defaults, the config file and the environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitListFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envMappings = map[string]string{
	"port":                   "server.port",
	"gin_mode":               "server.mode",
	"fe_origin":              "server.allowed_origin",
	"shutdown_timeout":       "server.shutdown_timeout",
	"store_driver":           "store.driver",
	"database_url":           "store.database_url",
	"db_max_open_conns":      "store.max_open_conns",
	"db_max_idle_conns":      "store.max_idle_conns",
	"db_notify_channel":      "store.notify_channel",
	"clickhouse_enabled":     "clickhouse.enabled",
	"clickhouse_host":        "clickhouse.host",
	"clickhouse_native_port": "clickhouse.native_port",
	"clickhouse_db_name":     "clickhouse.database",
	"clickhouse_username":    "clickhouse.username",
	"clickhouse_password":    "clickhouse.password",
	"clickhouse_batch_size":  "clickhouse.batch_size",
	"clickhouse_flush":       "clickhouse.flush_interval",
	"session_secret":         "session.secret",
	"state_dir":              "session.state_dir",
	"session_ttl":            "session.session_ttl",
	"cookie_secure":          "session.cookie_secure",
	"ip_hash_key":            "session.ip_hash_key",
	"tracking_workers":       "tracking.workers",
	"tracking_queue_size":    "tracking.queue_size",
	"tracking_write_timeout": "tracking.write_timeout",
	"possible_keywords":      "tracking.possible_keywords",
	"rate_limit_enabled":     "rate_limit.enabled",
	"rate_limit_burst":       "rate_limit.burst",
	"rate_limit_every":       "rate_limit.every",
	"log_level":              "logging.level",
	"log_format":             "logging.format",
	"log_caller":             "logging.caller",
}

// envTransformFunc maps known environment variables onto config paths.
// Unknown variables map to "" and are skipped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

var listFields = []string{"tracking.possible_keywords"}

func splitListFields(k *koanf.Koanf) error {
	for _, path := range listFields {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store.database_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.ClickHouse.Enabled && (c.ClickHouse.Host == "" || c.ClickHouse.Database == "") {
		errs = append(errs, errors.New("clickhouse.host and clickhouse.database are required when clickhouse is enabled"))
	}
	if c.Tracking.Workers <= 0 {
		errs = append(errs, errors.New("tracking.workers must be positive"))
	}
	if c.Tracking.QueueSize <= 0 {
		errs = append(errs, errors.New("tracking.queue_size must be positive"))
	}
	if c.Server.Mode == "release" && c.Session.Secret == "" {
		errs = append(errs, errors.New("session.secret is required in release mode"))
	}
	return errors.Join(errs...)
}
