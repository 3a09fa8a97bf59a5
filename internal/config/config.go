// Package config loads the YAML service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath points at the config file when no flag is given.
	EnvConfigPath = "GIFTVAULT_CONFIG"
	// EnvDatabaseDSN overrides database.dsn.
	EnvDatabaseDSN = "GIFTVAULT_DATABASE_DSN"
	// EnvWebhookSecret overrides webhook.secret.
	EnvWebhookSecret = "GIFTVAULT_WEBHOOK_SECRET"
	// EnvLinkSecret overrides links.secret.
	EnvLinkSecret = "GIFTVAULT_LINK_SECRET"

	defaultConfigPath = "config.yaml"
)

// AppConfig carries command-line inputs.
type AppConfig struct {
	ConfigPath string
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Links     LinksConfig     `yaml:"links"`
	Fraud     FraudConfig     `yaml:"fraud"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Settings  SettingsConfig  `yaml:"settings"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AdminAPIKeys    []string      `yaml:"admin_api_keys"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig is optional. An empty URL and Addr disables the card cache.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Addr) != ""
}

// KafkaConfig is optional. Without brokers events are logged instead.
type KafkaConfig struct {
	Brokers []string          `yaml:"brokers"`
	Topics  map[string]string `yaml:"topics"`
}

type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

// LinksConfig controls signed redemption links. An empty secret disables them.
type LinksConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// FraudConfig holds the static caps. Zero values fall back to the gate defaults
// and the settings table can override them at runtime.
type FraudConfig struct {
	MaxCardsPerDay     int64 `yaml:"max_cards_per_day"`
	MaxDailyValue      int64 `yaml:"max_daily_value"`
	MaxCardValue       int64 `yaml:"max_card_value"`
	MaxIPActionsPerDay int64 `yaml:"max_ip_actions_per_day"`
	HighValueThreshold int64 `yaml:"high_value_threshold"`
}

type JobsConfig struct {
	Concurrency         int           `yaml:"concurrency"`
	RatePerSecond       float64       `yaml:"rate_per_second"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
	MaxAttempts         int           `yaml:"max_attempts"`
	BackoffBase         time.Duration `yaml:"backoff_base"`
	VisibilityTimeout   time.Duration `yaml:"visibility_timeout"`
}

type SchedulerConfig struct {
	Disabled bool          `yaml:"disabled"`
	Tick     time.Duration `yaml:"tick"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DeliveryConfig selects the notification channel. An empty relay URL logs instead.
type DeliveryConfig struct {
	RelayURL   string `yaml:"relay_url"`
	RelayToken string `yaml:"relay_token"`
}

type SettingsConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// ResolveConfigPath returns path, then $GIFTVAULT_CONFIG, then config.yaml.
func ResolveConfigPath(path string) string {
	if p := strings.TrimSpace(path); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return defaultConfigPath
}

// Load reads path, applies environment overrides and defaults, and validates.
// A missing file is not an error so the service can run from the environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	raw, errRead := os.ReadFile(path)
	switch {
	case errRead == nil:
		if errParse := yaml.Unmarshal(raw, cfg); errParse != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, errParse)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, errRead)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if errValidate := cfg.Validate(); errValidate != nil {
		return nil, errValidate
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvDatabaseDSN)); v != "" {
		c.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvWebhookSecret)); v != "" {
		c.Webhook.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLinkSecret)); v != "" {
		c.Links.Secret = v
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 5 * time.Minute
	}
	if c.Links.TTL <= 0 {
		c.Links.TTL = 24 * time.Hour
	}
	if c.Scheduler.Tick <= 0 {
		c.Scheduler.Tick = time.Minute
	}
	if c.Settings.RefreshInterval <= 0 {
		c.Settings.RefreshInterval = 30 * time.Second
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 28
	}
	c.Server.AdminAPIKeys = trimNonEmpty(c.Server.AdminAPIKeys)
	c.Kafka.Brokers = trimNonEmpty(c.Kafka.Brokers)
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("config: database.dsn is required (or set %s)", EnvDatabaseDSN)
	}
	if strings.TrimSpace(c.Webhook.Secret) == "" {
		return fmt.Errorf("config: webhook.secret is required (or set %s)", EnvWebhookSecret)
	}
	if c.Jobs.RatePerSecond < 0 {
		return fmt.Errorf("config: jobs.rate_per_second must not be negative")
	}
	return nil
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
