package config

import (
	"bytes"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnv = []string{
	"PORT", "PUBLIC_BASE_URL", "HTTP_WRITE_TIMEOUT", "TEMP_DIR",
	"S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PUBLIC_BASE_URL",
	"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
	"DATABASE_DRIVER", "DATABASE_URL",
	"KLING_ACCESS_KEY", "KLING_SECRET_KEY", "KLING_BASE_URL",
	"GOOGLE_API_KEY", "GOOGLE_BASE_URL", "WEBHOOK_TOKEN",
	"RECONCILER_ENABLED", "RECONCILE_SCHEDULE", "RECONCILE_BATCH_SIZE",
	"JOB_MAX_AGE", "POLL_FAILURE_THRESHOLD",
	"MAX_ACTIVE_VIDEO_JOBS", "SUBMISSION_SPACING", "RATE_LIMIT_MAX_RETRIES",
	"LOG_FORMAT", "LOG_LEVEL",
}

// clearEnv unsets every variable Load reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range configEnv {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func validConfig() *Config {
	return &Config{
		Port:                 8080,
		GoogleAPIKey:         "g-key",
		DatabaseDriver:       DriverSQLite,
		DatabaseURL:          "genstudio.db",
		ReconcileBatchSize:   20,
		PollFailureThreshold: 3,
		MaxActiveVideoJobs:   2,
	}
}

func TestLoad_ProviderCredentials(t *testing.T) {
	t.Run("no provider credentials returns error", func(t *testing.T) {
		clearEnv(t)

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoProviderCredentials)
	})

	t.Run("half a Kling key pair returns error", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("KLING_ACCESS_KEY", "ak")

		_, err := Load()
		assert.ErrorIs(t, err, ErrKlingSecretRequired)
	})

	t.Run("Kling only succeeds", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("KLING_ACCESS_KEY", "ak")
		t.Setenv("KLING_SECRET_KEY", "sk")

		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.KlingEnabled())
		assert.False(t, cfg.GoogleEnabled())
	})

	t.Run("Google only succeeds", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GOOGLE_API_KEY", "g-key")

		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.GoogleEnabled())
	})
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_API_KEY", "g-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/tmp/genstudio", cfg.TempDir)
	assert.Equal(t, DriverSQLite, cfg.DatabaseDriver)
	assert.Equal(t, "genstudio.db", cfg.DatabaseURL)
	assert.True(t, cfg.ReconcilerEnabled)
	assert.Equal(t, "@every 60s", cfg.ReconcileSchedule)
	assert.Equal(t, 20, cfg.ReconcileBatchSize)
	assert.Equal(t, 30*time.Minute, cfg.JobMaxAge)
	assert.Equal(t, 3, cfg.PollFailureThreshold)
	assert.Equal(t, 2, cfg.MaxActiveVideoJobs)
	assert.Equal(t, 2*time.Second, cfg.SubmissionSpacing)
	assert.Equal(t, 5, cfg.RateLimitMaxRetries)
	assert.Equal(t, 45*time.Minute, cfg.HTTPWriteTimeout)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("PORT", "3000")
	t.Setenv("PUBLIC_BASE_URL", "https://api.example.com")
	t.Setenv("TEMP_DIR", "/custom/temp")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret-key")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/genstudio")
	t.Setenv("RECONCILE_SCHEDULE", "*/2 * * * *")
	t.Setenv("JOB_MAX_AGE", "45m")
	t.Setenv("MAX_ACTIVE_VIDEO_JOBS", "4")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "https://api.example.com", cfg.PublicBaseURL)
	assert.Equal(t, "/custom/temp", cfg.TempDir)
	assert.True(t, cfg.S3Enabled())
	assert.Equal(t, "access-key", cfg.AWSAccessKeyID)
	assert.Equal(t, DriverPostgres, cfg.DatabaseDriver)
	assert.Equal(t, "*/2 * * * *", cfg.ReconcileSchedule)
	assert.Equal(t, 45*time.Minute, cfg.JobMaxAge)
	assert.Equal(t, 4, cfg.MaxActiveVideoJobs)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("PORT", "not-a-number")

	// go-envconfig returns an error when parsing fails
	_, err := Load()
	require.Error(t, err)
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				S3Bucket: tt.bucket,
				S3Region: tt.region,
			}
			assert.Equal(t, tt.expected, cfg.S3Enabled())
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := validConfig()
	cfg.TempDir = "/tmp/test"
	cfg.GoogleAPIKey = "secret-key"
	cfg.WebhookToken = "hook-secret"

	str := cfg.String()

	// Should contain non-sensitive values
	assert.Contains(t, str, "8080")
	assert.Contains(t, str, "/tmp/test")
	assert.Contains(t, str, "Google: true")

	// Should NOT contain sensitive values
	assert.NotContains(t, str, "secret-key")
	assert.NotContains(t, str, "hook-secret")
}

func TestConfig_NewLogger_JSON(t *testing.T) {
	cfg := &Config{
		LogFormat: "json",
		LogLevel:  "info",
	}

	logger := cfg.NewLogger()
	require.NotNil(t, logger)

	// Capture output to verify it's JSON
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	testLogger := slog.New(handler)
	testLogger.Info("test message")

	// Should have JSON structure
	assert.Contains(t, buf.String(), `"msg"`)
	assert.Contains(t, buf.String(), "test message")
}

func TestConfig_NewLogger_Text(t *testing.T) {
	cfg := &Config{
		LogFormat: "text",
		LogLevel:  "debug",
	}

	logger := cfg.NewLogger()
	require.NotNil(t, logger)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("unknown database driver", func(t *testing.T) {
		cfg := validConfig()
		cfg.DatabaseDriver = "mysql"
		assert.Error(t, cfg.Validate())
	})

	t.Run("postgres without DSN", func(t *testing.T) {
		cfg := validConfig()
		cfg.DatabaseDriver = DriverPostgres
		assert.ErrorIs(t, cfg.Validate(), ErrDatabaseURLRequired)
	})

	t.Run("malformed public base URL", func(t *testing.T) {
		cfg := validConfig()
		cfg.PublicBaseURL = "not a url"
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero video slots", func(t *testing.T) {
		cfg := validConfig()
		cfg.MaxActiveVideoJobs = 0
		assert.Error(t, cfg.Validate())
	})
}
