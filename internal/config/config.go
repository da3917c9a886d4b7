package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the email pipeline.
type Config struct {
	Env      string         `yaml:"env" envconfig:"APP_ENV"`
	LogLevel string         `yaml:"log_level" envconfig:"LOG_LEVEL"`
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Queue    QueueConfig    `yaml:"queue" envconfig:"QUEUE"`
	Webhook  WebhookConfig  `yaml:"webhook" envconfig:"WEBHOOK"`
	Provider ProviderConfig `yaml:"provider" envconfig:"PROVIDER"`
	Admin    AdminConfig    `yaml:"admin" envconfig:"ADMIN"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host" envconfig:"HOST"`
	Port         int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	// PublicURL is the externally reachable origin used to build
	// unsubscribe links. Empty disables List-Unsubscribe headers.
	PublicURL string `yaml:"public_url" envconfig:"PUBLIC_URL"`
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL             string        `yaml:"url" envconfig:"URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
}

// QueueConfig controls the Redis broker and the worker pool. When Enabled
// is false or RedisURL is empty every send is dispatched synchronously.
type QueueConfig struct {
	Enabled            bool          `yaml:"enabled" envconfig:"ENABLED"`
	RedisURL           string        `yaml:"redis_url" envconfig:"REDIS_URL"`
	Name               string        `yaml:"name" envconfig:"NAME"`
	Concurrency        int           `yaml:"concurrency" envconfig:"CONCURRENCY"`
	RatePerSecond      int           `yaml:"rate_per_second" envconfig:"RATE_PER_SECOND"`
	GlobalRateLimit    *bool         `yaml:"global_rate_limit" envconfig:"GLOBAL_RATE_LIMIT"`
	MaxAttempts        int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	BackoffBase        time.Duration `yaml:"backoff_base" envconfig:"BACKOFF_BASE"`
	PollInterval       time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	KeepCompletedFor   time.Duration `yaml:"keep_completed_for" envconfig:"KEEP_COMPLETED_FOR"`
	KeepCompletedCount int           `yaml:"keep_completed_count" envconfig:"KEEP_COMPLETED_COUNT"`
	KeepFailedFor      time.Duration `yaml:"keep_failed_for" envconfig:"KEEP_FAILED_FOR"`
	StalledAfter       time.Duration `yaml:"stalled_after" envconfig:"STALLED_AFTER"`
	JanitorInterval    time.Duration `yaml:"janitor_interval" envconfig:"JANITOR_INTERVAL"`
}

// UseGlobalRateLimit reports whether workers share a Redis-backed limiter.
func (c QueueConfig) UseGlobalRateLimit() bool {
	return c.GlobalRateLimit == nil || *c.GlobalRateLimit
}

// WebhookConfig holds the provider webhook verification settings.
type WebhookConfig struct {
	Secret    string        `yaml:"secret" envconfig:"SECRET"`
	Tolerance time.Duration `yaml:"tolerance" envconfig:"TOLERANCE"`
}

// ProviderConfig selects and configures the outbound email provider.
type ProviderConfig struct {
	Name       string        `yaml:"name" envconfig:"NAME"` // "http" or "ses"
	APIKey     string        `yaml:"api_key" envconfig:"API_KEY"`
	BaseURL    string        `yaml:"base_url" envconfig:"BASE_URL"`
	From       string        `yaml:"from" envconfig:"FROM"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	MaxRetries int           `yaml:"max_retries" envconfig:"MAX_RETRIES"`
	SES        SESConfig     `yaml:"ses" envconfig:"SES"`
}

// SESConfig holds AWS SES credentials. Empty keys use the default
// credential chain (IAM role on ECS).
type SESConfig struct {
	Region           string `yaml:"region" envconfig:"REGION"`
	AccessKey        string `yaml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey        string `yaml:"secret_key" envconfig:"SECRET_KEY"`
	ConfigurationSet string `yaml:"configuration_set" envconfig:"CONFIGURATION_SET"`
}

// AdminConfig guards the admin routes.
type AdminConfig struct {
	Token          string   `yaml:"token" envconfig:"TOKEN"`
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// IsProduction reports whether the process runs in production.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// Load reads and parses the configuration file. An empty path yields a
// config built from defaults only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	// Unset variables leave the YAML values untouched.
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	// Conventional names used by the rest of the platform.
	if v := os.Getenv("REDIS_URL"); v != "" && cfg.Queue.RedisURL == "" {
		cfg.Queue.RedisURL = v
	}
	if v := os.Getenv("RESEND_API_KEY"); v != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = v
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if c.Queue.Name == "" {
		c.Queue.Name = "email"
	}
	if c.Queue.Concurrency == 0 {
		c.Queue.Concurrency = 5
	}
	if c.Queue.RatePerSecond == 0 {
		c.Queue.RatePerSecond = 10
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.BackoffBase == 0 {
		c.Queue.BackoffBase = 2 * time.Second
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = 250 * time.Millisecond
	}
	if c.Queue.KeepCompletedFor == 0 {
		c.Queue.KeepCompletedFor = time.Hour
	}
	if c.Queue.KeepCompletedCount == 0 {
		c.Queue.KeepCompletedCount = 1000
	}
	if c.Queue.KeepFailedFor == 0 {
		c.Queue.KeepFailedFor = 7 * 24 * time.Hour
	}
	if c.Queue.StalledAfter == 0 {
		c.Queue.StalledAfter = 5 * time.Minute
	}
	if c.Queue.JanitorInterval == 0 {
		c.Queue.JanitorInterval = time.Minute
	}
	if c.Provider.Name == "" {
		c.Provider.Name = "http"
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://api.resend.com"
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = 30 * time.Second
	}
	if c.Provider.MaxRetries == 0 {
		c.Provider.MaxRetries = 2
	}
	if c.Provider.SES.Region == "" {
		c.Provider.SES.Region = "us-east-1"
	}
}

// ErrMissingWebhookSecret is returned by Validate in production when no
// webhook secret is configured.
var ErrMissingWebhookSecret = errors.New("webhook secret is required in production")

// ErrStalledWithinTimeout is returned by Validate when the janitor could
// requeue a job whose provider call is still within its timeout.
var ErrStalledWithinTimeout = errors.New("queue.stalled_after must exceed provider.timeout")

// Validate rejects configurations the process must not start with.
func (c *Config) Validate() error {
	if c.IsProduction() && c.Webhook.Secret == "" {
		return ErrMissingWebhookSecret
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be positive, got %d", c.Queue.Concurrency)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be positive, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.StalledAfter <= c.Provider.Timeout {
		return fmt.Errorf("%w: stalled_after %s, timeout %s",
			ErrStalledWithinTimeout, c.Queue.StalledAfter, c.Provider.Timeout)
	}
	switch c.Provider.Name {
	case "http", "ses":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	return nil
}
