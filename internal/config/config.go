// Package config loads and validates the dispatch engine's configuration:
// a YAML file with environment-variable overrides, following the same
// Load/loadFromEnv/validate shape the rest of this codebase's services use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var fieldValidator = validator.New()

// ServerConfig controls the callback HTTP endpoint (spec.md §4.6).
type ServerConfig struct {
	Addr                  string        `yaml:"addr"`
	MaxConcurrentDispatch int64         `yaml:"max_concurrent_dispatch" validate:"gt=0"`
	DispatchTimeout       time.Duration `yaml:"dispatch_timeout" validate:"gt=0"`
}

// MetricsConfig controls the separate /metrics server.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// BackendConfig points the gateway at the backend platform's API.
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url" validate:"required,url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// OIDCConfig configures the optional client-credentials OAuth2 flow used to
// authenticate gateway calls. Enabled when both TokenURL and ClientID are
// non-empty.
type OIDCConfig struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// DispatchConfig controls the per-intervention lock optimization.
type DispatchConfig struct {
	UseRedisLock bool          `yaml:"use_redis_lock"`
	RedisAddr    string        `yaml:"redis_addr"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
}

// SchedulerConfig controls the periodic sweep cadence.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
}

// LoggingConfig controls the zap logger built in cmd/dispatch-engine.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Backend   BackendConfig   `yaml:"backend"`
	OIDC      OIDCConfig      `yaml:"oidc"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// defaults returns a Config pre-populated with every documented default, so
// that Load only needs to override what the file and environment actually
// specify.
func defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:                  ":8081",
			MaxConcurrentDispatch: 8,
			DispatchTimeout:       10 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Backend: BackendConfig{
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   10 * time.Second,
		},
		Dispatch: DispatchConfig{
			LockTTL: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path, parses it over the documented defaults, applies
// environment variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadFromEnv applies the small set of override variables operators reach
// for most often without editing the file: backend endpoint, OIDC client
// credentials, log level, server address, scheduler interval, and the Redis
// lock switch.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("DISPATCH_BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("DISPATCH_OIDC_CLIENT_ID"); v != "" {
		cfg.OIDC.ClientID = v
	}
	if v := os.Getenv("DISPATCH_OIDC_CLIENT_SECRET"); v != "" {
		cfg.OIDC.ClientSecret = v
	}
	if v := os.Getenv("DISPATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DISPATCH_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DISPATCH_SCHEDULER_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DISPATCH_SCHEDULER_INTERVAL: %w", err)
		}
		cfg.Scheduler.Interval = d
	}
	if v := os.Getenv("DISPATCH_USE_REDIS_LOCK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DISPATCH_USE_REDIS_LOCK: %w", err)
		}
		cfg.Dispatch.UseRedisLock = b
	}
	return nil
}

// validate enforces the invariants Load's caller relies on. Cross-field
// rules that a struct tag cannot express (e.g. "redis_addr is required
// only when use_redis_lock is set") are hand-written first, with messages
// tailored to what an operator needs to fix; everything tag-expressible
// (required, positive, oneof, url-shaped) runs afterwards through
// validator.Struct so a field added later only needs a tag to be checked.
func validate(cfg *Config) error {
	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("backend base_url is required")
	}
	if cfg.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}
	if cfg.Server.MaxConcurrentDispatch <= 0 {
		return fmt.Errorf("server max_concurrent_dispatch must be greater than 0")
	}
	if cfg.Dispatch.UseRedisLock && cfg.Dispatch.RedisAddr == "" {
		return fmt.Errorf("dispatch redis_addr is required when use_redis_lock is enabled")
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported logging format %q", cfg.Logging.Format)
	}
	if err := fieldValidator.Struct(cfg); err != nil {
		return fmt.Errorf("field validation: %w", err)
	}
	return nil
}
