// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrNoProviderCredentials is returned when no provider can be configured.
	ErrNoProviderCredentials = errors.New("config: set KLING_ACCESS_KEY/KLING_SECRET_KEY or GOOGLE_API_KEY")
	// ErrKlingSecretRequired is returned when only half of the Kling key pair is set.
	ErrKlingSecretRequired = errors.New("config: KLING_ACCESS_KEY and KLING_SECRET_KEY must be set together")
	// ErrDatabaseURLRequired is returned when postgres is selected without a DSN.
	ErrDatabaseURLRequired = errors.New("config: DATABASE_URL is required for postgres")
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port             int           `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`
	PublicBaseURL    string        `env:"PUBLIC_BASE_URL" json:"public_base_url,omitempty" validate:"omitempty,url"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT, default=45m" json:"http_write_timeout"`

	// Storage settings
	TempDir         string `env:"TEMP_DIR, default=/tmp/genstudio" json:"temp_dir"`
	S3Bucket        string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region        string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint      string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3PublicBaseURL string `env:"S3_PUBLIC_BASE_URL" json:"s3_public_base_url,omitempty"`

	// AWS credentials, optional when the default chain applies
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Database settings
	DatabaseDriver string `env:"DATABASE_DRIVER, default=sqlite" json:"database_driver" validate:"oneof=sqlite postgres"`
	DatabaseURL    string `env:"DATABASE_URL, default=genstudio.db" json:"-"` // Masked in JSON

	// Provider settings
	KlingAccessKey string `env:"KLING_ACCESS_KEY" json:"-"` // Masked in JSON
	KlingSecretKey string `env:"KLING_SECRET_KEY" json:"-"` // Masked in JSON
	KlingBaseURL   string `env:"KLING_BASE_URL" json:"kling_base_url,omitempty"`
	GoogleAPIKey   string `env:"GOOGLE_API_KEY" json:"-"` // Masked in JSON
	GoogleBaseURL  string `env:"GOOGLE_BASE_URL" json:"google_base_url,omitempty"`
	WebhookToken   string `env:"WEBHOOK_TOKEN" json:"-"` // Masked in JSON

	// Reconciler settings
	ReconcilerEnabled    bool          `env:"RECONCILER_ENABLED, default=true" json:"reconciler_enabled"`
	ReconcileSchedule    string        `env:"RECONCILE_SCHEDULE, default=@every 60s" json:"reconcile_schedule"`
	ReconcileBatchSize   int           `env:"RECONCILE_BATCH_SIZE, default=20" json:"reconcile_batch_size" validate:"min=1"`
	JobMaxAge            time.Duration `env:"JOB_MAX_AGE, default=30m" json:"job_max_age"`
	PollFailureThreshold int           `env:"POLL_FAILURE_THRESHOLD, default=3" json:"poll_failure_threshold" validate:"min=1"`

	// Submission settings
	MaxActiveVideoJobs  int           `env:"MAX_ACTIVE_VIDEO_JOBS, default=2" json:"max_active_video_jobs" validate:"min=1"`
	SubmissionSpacing   time.Duration `env:"SUBMISSION_SPACING, default=2s" json:"submission_spacing"`
	RateLimitMaxRetries int           `env:"RATE_LIMIT_MAX_RETRIES, default=5" json:"rate_limit_max_retries" validate:"min=0"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// KlingEnabled returns true if Kling credentials are provided.
func (c *Config) KlingEnabled() bool {
	return c.KlingAccessKey != "" && c.KlingSecretKey != ""
}

// GoogleEnabled returns true if a Google API key is provided.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleAPIKey != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if (c.KlingAccessKey == "") != (c.KlingSecretKey == "") {
		return ErrKlingSecretRequired
	}
	if !c.KlingEnabled() && !c.GoogleEnabled() {
		return ErrNoProviderCredentials
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.DatabaseDriver == DriverPostgres && (c.DatabaseURL == "" || c.DatabaseURL == "genstudio.db") {
		return ErrDatabaseURLRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, DatabaseDriver: %s, S3Bucket: %s, S3Region: %s, Kling: %t, Google: %t, ReconcileSchedule: %s, MaxActiveVideoJobs: %d, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.DatabaseDriver,
		c.S3Bucket,
		c.S3Region,
		c.KlingEnabled(),
		c.GoogleEnabled(),
		c.ReconcileSchedule,
		c.MaxActiveVideoJobs,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
