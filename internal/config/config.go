// Package config loads engine configuration: built-in defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mmynk/ajo/internal/models"
)

// Config is the resolved configuration.
type Config struct {
	DBPath   string
	HTTPAddr string
	LogLevel string

	JWTSecret string

	// WebhookSecret signs inbound gateway webhooks. Empty disables verification.
	WebhookSecret    string
	WebhookTolerance time.Duration

	Gateway   GatewayConfig
	Payout    PayoutConfig
	Scheduler SchedulerConfig

	// Policy holds the defaults copied onto new groups.
	Policy PolicyConfig
}

// GatewayConfig configures the outbound payment gateway client.
type GatewayConfig struct {
	URL               string
	SecretKey         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// PayoutConfig bounds payout retries.
type PayoutConfig struct {
	MaxAttempts     int
	RetryBackoff    time.Duration
	MaxBackoff      time.Duration
	CallbackTimeout time.Duration
}

// SchedulerConfig sets how often the scheduler ticks.
type SchedulerConfig struct {
	Interval time.Duration
	Enabled  bool
}

// PolicyConfig holds group policy defaults. There are no built-in values:
// a deployment states its fee and penalty policy in the config file, or every
// group states its own at creation.
type PolicyConfig struct {
	PlatformFeeBps int64
	DepositAmount  int64
	Penalty        models.PenaltyPolicy
}

type configFile struct {
	Server struct {
		DBPath   string `yaml:"db_path"`
		HTTPAddr string `yaml:"http_addr"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret        string        `yaml:"jwt_secret"`
		WebhookSecret    string        `yaml:"webhook_secret"`
		WebhookTolerance time.Duration `yaml:"webhook_tolerance"`
	} `yaml:"auth"`
	Gateway struct {
		URL               string        `yaml:"url"`
		SecretKey         string        `yaml:"secret_key"`
		Timeout           time.Duration `yaml:"timeout"`
		RequestsPerSecond float64       `yaml:"requests_per_second"`
		Burst             int           `yaml:"burst"`
	} `yaml:"gateway"`
	Payout struct {
		MaxAttempts     int           `yaml:"max_attempts"`
		RetryBackoff    time.Duration `yaml:"retry_backoff"`
		MaxBackoff      time.Duration `yaml:"max_backoff"`
		CallbackTimeout time.Duration `yaml:"callback_timeout"`
	} `yaml:"payout"`
	Scheduler struct {
		Interval time.Duration `yaml:"interval"`
		Enabled  *bool         `yaml:"enabled"`
	} `yaml:"scheduler"`
	Policy struct {
		PlatformFeeBps int64 `yaml:"platform_fee_bps"`
		DepositAmount  int64 `yaml:"deposit_amount"`
		Penalty        struct {
			Type        string        `yaml:"type"`
			Value       int64         `yaml:"value"`
			GracePeriod time.Duration `yaml:"grace_period"`
			Window      time.Duration `yaml:"window"`
		} `yaml:"penalty"`
	} `yaml:"policy"`
}

// Load resolves configuration. A missing file at path is not an error.
func Load(path string) (Config, error) {
	cfg := Config{
		DBPath:           "./data/ajo.db",
		HTTPAddr:         ":8080",
		LogLevel:         "info",
		WebhookTolerance: 5 * time.Minute,
		Gateway: GatewayConfig{
			Timeout:           10 * time.Second,
			RequestsPerSecond: 10,
			Burst:             5,
		},
		Payout: PayoutConfig{
			MaxAttempts:     5,
			RetryBackoff:    time.Minute,
			MaxBackoff:      time.Hour,
			CallbackTimeout: 6 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			Interval: 5 * time.Minute,
			Enabled:  true,
		},
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := apply(&cfg, raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, fs.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.DBPath = envOrDefault("AJO_DB_PATH", cfg.DBPath)
	cfg.HTTPAddr = envOrDefault("AJO_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.JWTSecret = envOrDefault("AJO_JWT_SECRET", cfg.JWTSecret)
	cfg.WebhookSecret = envOrDefault("AJO_WEBHOOK_SECRET", cfg.WebhookSecret)
	cfg.Gateway.URL = envOrDefault("AJO_GATEWAY_URL", cfg.Gateway.URL)
	cfg.Gateway.SecretKey = envOrDefault("AJO_GATEWAY_KEY", cfg.Gateway.SecretKey)

	var err error
	if cfg.Payout.MaxAttempts, err = envInt("AJO_PAYOUT_MAX_ATTEMPTS", cfg.Payout.MaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.Scheduler.Interval, err = envDuration("AJO_SCHEDULER_INTERVAL", cfg.Scheduler.Interval); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

func apply(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if f.Server.DBPath != "" {
		cfg.DBPath = f.Server.DBPath
	}
	if f.Server.HTTPAddr != "" {
		cfg.HTTPAddr = f.Server.HTTPAddr
	}
	if f.Server.LogLevel != "" {
		cfg.LogLevel = f.Server.LogLevel
	}
	cfg.JWTSecret = f.Auth.JWTSecret
	cfg.WebhookSecret = f.Auth.WebhookSecret
	if f.Auth.WebhookTolerance > 0 {
		cfg.WebhookTolerance = f.Auth.WebhookTolerance
	}

	cfg.Gateway.URL = f.Gateway.URL
	cfg.Gateway.SecretKey = f.Gateway.SecretKey
	if f.Gateway.Timeout > 0 {
		cfg.Gateway.Timeout = f.Gateway.Timeout
	}
	if f.Gateway.RequestsPerSecond > 0 {
		cfg.Gateway.RequestsPerSecond = f.Gateway.RequestsPerSecond
	}
	if f.Gateway.Burst > 0 {
		cfg.Gateway.Burst = f.Gateway.Burst
	}

	if f.Payout.MaxAttempts > 0 {
		cfg.Payout.MaxAttempts = f.Payout.MaxAttempts
	}
	if f.Payout.RetryBackoff > 0 {
		cfg.Payout.RetryBackoff = f.Payout.RetryBackoff
	}
	if f.Payout.MaxBackoff > 0 {
		cfg.Payout.MaxBackoff = f.Payout.MaxBackoff
	}
	if f.Payout.CallbackTimeout > 0 {
		cfg.Payout.CallbackTimeout = f.Payout.CallbackTimeout
	}

	if f.Scheduler.Interval > 0 {
		cfg.Scheduler.Interval = f.Scheduler.Interval
	}
	if f.Scheduler.Enabled != nil {
		cfg.Scheduler.Enabled = *f.Scheduler.Enabled
	}

	cfg.Policy.PlatformFeeBps = f.Policy.PlatformFeeBps
	cfg.Policy.DepositAmount = f.Policy.DepositAmount
	cfg.Policy.Penalty = models.PenaltyPolicy{
		Type:        models.PenaltyType(f.Policy.Penalty.Type),
		Value:       f.Policy.Penalty.Value,
		GracePeriod: f.Policy.Penalty.GracePeriod,
		Window:      f.Policy.Penalty.Window,
	}
	return nil
}

// Validate checks values that would make the engine misbehave. An unset
// penalty policy is allowed; groups must then supply their own.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("%w: db path required", models.ErrInvalidInput)
	}
	if c.Payout.MaxAttempts < 1 {
		return fmt.Errorf("%w: payout max attempts must be at least 1", models.ErrInvalidInput)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("%w: scheduler interval must be positive", models.ErrInvalidInput)
	}
	if c.Policy.PlatformFeeBps < 0 || c.Policy.PlatformFeeBps >= 10000 {
		return fmt.Errorf("%w: platform fee must be in [0, 10000) bps", models.ErrInvalidInput)
	}
	if c.Policy.Penalty.Type != "" {
		if err := c.Policy.Penalty.Validate(); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", models.ErrInvalidInput, name, err)
	}
	return v, nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", models.ErrInvalidInput, name, err)
	}
	return v, nil
}
