// Package config defines the global configuration structure for the FinPulse
// engine. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Secret Files (Lowest)
//
// Any missing required value or invalid format causes the application to
// fail immediately on startup.
package config

import (
	"time"

	"finpulse/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the FinPulse engine.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"finpulse-engine"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	Engine        EngineConfig
	Queue         QueueConfig
	Scheduler     SchedulerConfig
	Telegram      TelegramConfig
	Email         EmailConfig
	Webhook       WebhookConfig
	Rates         RatesConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
	Feature       FeatureConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URL for links embedded in notifications (no trailing slash)
	APIExternalURL string `envconfig:"API_EXTERNAL_URL" validate:"required,url"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`     // Fail fast when pool exhausted
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover
}

// EngineConfig holds catch-up and archival parameters.
type EngineConfig struct {
	// DigestThreshold is the default number of materialized occurrences per
	// walk above which per-occurrence notices collapse into one digest.
	// Users may override it via their digest preferences.
	DigestThreshold int `envconfig:"ENGINE_DIGEST_THRESHOLD" default:"3"`

	// HistoryRetention is how long finished job_history rows stay queryable
	// before the archive task compresses and removes them.
	HistoryRetention time.Duration `envconfig:"ENGINE_HISTORY_RETENTION" default:"2160h"`
	ArchiveDir       string        `envconfig:"ENGINE_ARCHIVE_DIR" default:"/var/lib/finpulse/archive"`
	ArchiveBatchSize int           `envconfig:"ENGINE_ARCHIVE_BATCH" default:"500"`
}

// QueueConfig holds delivery queue tuning parameters.
type QueueConfig struct {
	Capacity     int           `envconfig:"QUEUE_CAPACITY" default:"1024"`
	Pacing       time.Duration `envconfig:"QUEUE_PACING" default:"1s"`
	RetryCeiling int           `envconfig:"QUEUE_RETRY_CEILING" default:"3"`
}

// SchedulerConfig holds sweep cadence and timer parameters.
type SchedulerConfig struct {
	SweepInterval    time.Duration `envconfig:"SCHEDULER_SWEEP_INTERVAL" default:"1h"`
	ReminderScanHour int           `envconfig:"SCHEDULER_REMINDER_HOUR" default:"8" validate:"min=0,max=23"` // UTC hour for the daily maintenance window
	RearmRetry       time.Duration `envconfig:"SCHEDULER_REARM_RETRY" default:"5m"`
	LockTTL          time.Duration `envconfig:"SCHEDULER_LOCK_TTL" default:"15m"`
}

// TelegramConfig holds Telegram Bot API credentials.
type TelegramConfig struct {
	BotToken SecretString `envconfig:"TELEGRAM_BOT_TOKEN" validate:"required"`
}

// EmailConfig holds email delivery provider credentials.
type EmailConfig struct {
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY" validate:"required"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"notices@finpulse.app"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"FinPulse"`
	// Public key for SendGrid's signed Event Webhook. Empty skips
	// signature verification on inbound bounce events.
	EventWebhookKey SecretString `envconfig:"SENDGRID_EVENT_WEBHOOK_KEY"`
}

// WebhookConfig holds settings for outbound webhook delivery.
type WebhookConfig struct {
	UserAgent      string        `envconfig:"WEBHOOK_USER_AGENT" default:"FinPulse-Hook/1.0"`
	DefaultTimeout time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	MaxRedirects   int           `envconfig:"WEBHOOK_MAX_REDIRECTS" default:"3"`
}

// RatesConfig holds settings for the exchange-rate lookup used to normalize
// amounts into each user's display currency. The default provider serves ECB
// reference rates without an API key.
type RatesConfig struct {
	BaseURL  string        `envconfig:"RATES_API_URL" default:"https://api.frankfurter.dev" validate:"url"`
	CacheTTL time.Duration `envconfig:"RATES_CACHE_TTL" default:"1h"`
	Timeout  time.Duration `envconfig:"RATES_TIMEOUT" default:"5s"`
}

// SecurityConfig holds CORS and rate-limit settings for the HTTP API.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Per-client request budget for the fixed rate-limit window. Zero
	// disables limiting.
	RateLimitMax    int           `envconfig:"RATE_LIMIT_MAX" default:"120"`
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"finpulse"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// FeatureConfig holds emergency kill switches for delivery channels and
// optional engine features.
type FeatureConfig struct {
	EnableTelegram  bool `envconfig:"FEATURE_ENABLE_TELEGRAM" default:"true"`
	EnableEmail     bool `envconfig:"FEATURE_ENABLE_EMAIL" default:"true"`
	EnableWebhook   bool `envconfig:"FEATURE_ENABLE_WEBHOOK" default:"true"`
	EnableReminders bool `envconfig:"FEATURE_ENABLE_REMINDERS" default:"true"`
	EnableDigest    bool `envconfig:"FEATURE_ENABLE_DIGEST" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a failure when reading secret files.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
