package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Environment string               `yaml:"environment"`
	DevMode     bool                 `yaml:"dev_mode"`
	CronSecret  string               `yaml:"cron_secret"`
	LogLevel    string               `yaml:"log_level"`
	Server      ServerConfig         `yaml:"server"`
	Database    DatabaseConfig       `yaml:"database"`
	Store       string               `yaml:"store"`
	Scheduler   SchedulerConfig      `yaml:"scheduler"`
	Tracking    TrackingConfig       `yaml:"tracking"`
	Delivery    DeliveryConfig       `yaml:"delivery"`
	SES         SESConfig            `yaml:"ses"`
	SMTP        SMTPConfig           `yaml:"smtp"`
	Webhooks    WebhookConfig        `yaml:"webhooks"`
	Redis       RedisConfig          `yaml:"redis"`
	RateLimits  map[string]RateLimit `yaml:"rate_limits"`
	Activity    ActivityConfig       `yaml:"activity"`
	Reports     ReportsConfig        `yaml:"reports"`
	Sentry      SentryConfig         `yaml:"sentry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                  int      `yaml:"port"`
	Host                  string   `yaml:"host"`
	AllowedOrigins        []string `yaml:"allowed_origins"`
	RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds the Postgres connection and pool settings
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	MigrationsDir          string `yaml:"migrations_dir"`
}

// SchedulerConfig tunes the processor and its triggers
type SchedulerConfig struct {
	IntervalSeconds      int `yaml:"interval_seconds"`
	BatchSize            int `yaml:"batch_size"`
	Concurrency          int `yaml:"concurrency"`
	ClaimTTLSeconds      int `yaml:"claim_ttl_seconds"`
	OverdueAfterMinutes  int `yaml:"overdue_after_minutes"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	SendTimeoutSeconds   int `yaml:"send_timeout_seconds"`
}

// Interval is the in-process trigger period.
func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// ClaimTTL is how long a claimed enrollment stays reserved.
func (s SchedulerConfig) ClaimTTL() time.Duration {
	return time.Duration(s.ClaimTTLSeconds) * time.Second
}

// OverdueAfter is how late a due enrollment must be to count as overdue.
func (s SchedulerConfig) OverdueAfter() time.Duration {
	return time.Duration(s.OverdueAfterMinutes) * time.Minute
}

// SweepInterval is the expired-claim sweep period.
func (s SchedulerConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalSeconds) * time.Second
}

// SendTimeout bounds a single provider call.
func (s SchedulerConfig) SendTimeout() time.Duration {
	return time.Duration(s.SendTimeoutSeconds) * time.Second
}

// TrackingConfig controls open pixels and click redirects
type TrackingConfig struct {
	BaseURL     string `yaml:"base_url"`
	TrackOpens  bool   `yaml:"track_opens"`
	TrackClicks bool   `yaml:"track_clicks"`
}

// DeliveryConfig selects the email provider and the default sender
type DeliveryConfig struct {
	Provider  string `yaml:"provider"` // "ses", "smtp" or "log"
	FromName  string `yaml:"from_name"`
	FromEmail string `yaml:"from_email"`
	ReplyTo   string `yaml:"reply_to"`
}

// SESConfig holds AWS SES credentials
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// SMTPConfig holds SMTP relay settings
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WebhookConfig points the non-email channels at their integrations
type WebhookConfig struct {
	LinkedIn   WebhookTarget `yaml:"linkedin"`
	Task       WebhookTarget `yaml:"task"`
	MaxRetries int           `yaml:"max_retries"`
}

// WebhookTarget is one outbound webhook.
type WebhookTarget struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// RedisConfig holds the Redis connection used for rate limits and locks
type RedisConfig struct {
	URL string `yaml:"url"`
}

// RateLimit caps sends on one channel. Zero disables a window.
type RateLimit struct {
	PerSecond int `yaml:"per_second"`
	PerMinute int `yaml:"per_minute"`
	PerDay    int `yaml:"per_day"`
}

// ActivityConfig selects where activity events go
type ActivityConfig struct {
	Driver        string `yaml:"driver"` // "nats", "sqs" or "log"
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	SQSQueueURL   string `yaml:"sqs_queue_url"`
	SQSRegion     string `yaml:"sqs_region"`
}

// ReportsConfig locates the run-report archive
type ReportsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Region        string `yaml:"region"`
	Profile       string `yaml:"profile"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Table         string `yaml:"table"`
	RetentionDays int    `yaml:"retention_days"`
}

// SentryConfig holds error reporting settings
type SentryConfig struct {
	DSN string `yaml:"dsn"`
}

// Load reads configuration from a YAML file and applies defaults. A missing
// file yields the defaults alone.
func Load(path string) (*Config, error) {
	cfg := Config{Tracking: TrackingConfig{TrackOpens: true, TrackClicks: true}}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeoutSeconds == 0 {
		cfg.Server.RequestTimeoutSeconds = 60
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Database.MigrationsDir == "" {
		cfg.Database.MigrationsDir = "migrations"
	}
	if cfg.Store == "" {
		if cfg.Database.URL != "" {
			cfg.Store = "postgres"
		} else {
			cfg.Store = "memory"
		}
	}
	if cfg.Scheduler.IntervalSeconds == 0 {
		cfg.Scheduler.IntervalSeconds = 300
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = 100
	}
	if cfg.Scheduler.Concurrency == 0 {
		cfg.Scheduler.Concurrency = 10
	}
	if cfg.Scheduler.ClaimTTLSeconds == 0 {
		cfg.Scheduler.ClaimTTLSeconds = 300
	}
	if cfg.Scheduler.OverdueAfterMinutes == 0 {
		cfg.Scheduler.OverdueAfterMinutes = 60
	}
	if cfg.Scheduler.SweepIntervalSeconds == 0 {
		cfg.Scheduler.SweepIntervalSeconds = 60
	}
	if cfg.Scheduler.SendTimeoutSeconds == 0 {
		cfg.Scheduler.SendTimeoutSeconds = 30
	}
	if cfg.Tracking.BaseURL == "" {
		cfg.Tracking.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if cfg.Delivery.Provider == "" {
		cfg.Delivery.Provider = "log"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.Webhooks.MaxRetries == 0 {
		cfg.Webhooks.MaxRetries = 3
	}
	if cfg.Activity.Driver == "" {
		cfg.Activity.Driver = "log"
	}
	if cfg.Activity.SubjectPrefix == "" {
		cfg.Activity.SubjectPrefix = "outreach"
	}
	if cfg.Reports.Prefix == "" {
		cfg.Reports.Prefix = "runs"
	}
	if cfg.Reports.RetentionDays == 0 {
		cfg.Reports.RetentionDays = 90
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		cfg.CronSecret = v
	}
	if v := os.Getenv("DEV_MODE"); v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("DEV_MODE: %w", err)
		}
		cfg.DevMode = dev
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	// Database override (the config file usually carries a local default)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		if os.Getenv("STORE") == "" {
			cfg.Store = "postgres"
		}
	}
	if v := os.Getenv("STORE"); v != "" {
		cfg.Store = v
	}

	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("DELIVERY_PROVIDER"); v != "" {
		cfg.Delivery.Provider = v
	}
	if v := os.Getenv("FROM_EMAIL"); v != "" {
		cfg.Delivery.FromEmail = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("LINKEDIN_WEBHOOK_TOKEN"); v != "" {
		cfg.Webhooks.LinkedIn.Token = v
	}
	if v := os.Getenv("TASK_WEBHOOK_TOKEN"); v != "" {
		cfg.Webhooks.Task.Token = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.Activity.NATSURL = v
	}
	if v := os.Getenv("ACTIVITY_DRIVER"); v != "" {
		cfg.Activity.Driver = v
	}
	if v := os.Getenv("SQS_QUEUE_URL"); v != "" {
		cfg.Activity.SQSQueueURL = v
	}
	if v := os.Getenv("REPORTS_BUCKET"); v != "" {
		cfg.Reports.Bucket = v
		cfg.Reports.Enabled = true
	}
	if v := os.Getenv("REPORTS_TABLE"); v != "" {
		cfg.Reports.Table = v
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		cfg.Sentry.DSN = v
	}

	return cfg, nil
}

// Validate reports settings that would make the selected drivers unusable.
func (c *Config) Validate() error {
	var problems []string
	switch c.Store {
	case "postgres":
		if c.Database.URL == "" {
			problems = append(problems, "store postgres needs database.url")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("unknown store %q", c.Store))
	}
	switch c.Delivery.Provider {
	case "ses", "log":
	case "smtp":
		if c.SMTP.Host == "" {
			problems = append(problems, "provider smtp needs smtp.host")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown delivery provider %q", c.Delivery.Provider))
	}
	switch c.Activity.Driver {
	case "log", "none":
	case "nats":
		if c.Activity.NATSURL == "" {
			problems = append(problems, "activity driver nats needs activity.nats_url")
		}
	case "sqs":
		if c.Activity.SQSQueueURL == "" {
			problems = append(problems, "activity driver sqs needs activity.sqs_queue_url")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown activity driver %q", c.Activity.Driver))
	}
	if c.Reports.Enabled && c.Reports.Bucket == "" {
		problems = append(problems, "reports need a bucket")
	}
	if !c.DevMode && c.CronSecret == "" {
		problems = append(problems, "cron_secret is required outside dev mode")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
