// Package config loads AIFX's configuration from environment variables.
//
// Configuration is loaded once at startup from a .env file (if present) and
// environment variables, then validated. Every setting has a documented
// default except transport/broker credentials, which must be supplied by
// the operator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration for the signal pipeline.
type Config struct {
	DataDir  string
	Port     int
	LogLevel string

	TrackedPairs      []string
	TrackedTimeframes []string

	DispatchWorkers       int
	DispatchQueueSize     int
	DispatchShutdownGrace time.Duration

	MLBaseURL         string
	MLTimeout         time.Duration
	MLBreakerFailures int
	MLBreakerWindow   time.Duration
	MLBreakerCooldown time.Duration

	GatewayTimeout     time.Duration
	GatewayCacheMaxTTL time.Duration
	GatewayRatePerSec  float64
	GatewayRateBurst   int

	PrimaryProviderName    string
	PrimaryProviderBaseURL string
	BackupProviderName     string
	BackupProviderBaseURL  string

	DefaultCooldownMinutes int
	DefaultDailyCap        int

	DiscordWebhookBase string
	LineChannelToken   string

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	ExternalBusAddr  string
	ExternalBusTopic string

	ArchiveS3Bucket  string
	ArchiveAfterDays int

	PositionMonitorInterval  time.Duration
	DailySummaryCronSchedule string
}

// Load reads configuration from environment variables (and a .env file, if
// present). dataDirOverride, when non-empty, takes priority over
// AIFX_DATA_DIR the way a CLI flag would.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	dataDir := ""
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("AIFX_DATA_DIR", "./data")
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("AIFX_PORT", 8080),
		LogLevel: getEnv("AIFX_LOG_LEVEL", "info"),

		TrackedPairs:      getEnvAsList("AIFX_TRACKED_PAIRS", []string{"EUR/USD", "GBP/USD", "USD/JPY"}),
		TrackedTimeframes: getEnvAsList("AIFX_TRACKED_TIMEFRAMES", []string{"15m", "1h", "4h"}),

		DispatchWorkers:       getEnvAsInt("AIFX_DISPATCH_WORKERS", 32),
		DispatchQueueSize:     getEnvAsInt("AIFX_DISPATCH_QUEUE_SIZE", 2048),
		DispatchShutdownGrace: getEnvAsDuration("AIFX_DISPATCH_SHUTDOWN_GRACE", 30*time.Second),

		MLBaseURL:         getEnv("AIFX_ML_BASE_URL", "http://localhost:9100"),
		MLTimeout:         getEnvAsDuration("AIFX_ML_TIMEOUT", 2*time.Second),
		MLBreakerFailures: getEnvAsInt("AIFX_ML_BREAKER_FAILURES", 5),
		MLBreakerWindow:   getEnvAsDuration("AIFX_ML_BREAKER_WINDOW", 60*time.Second),
		MLBreakerCooldown: getEnvAsDuration("AIFX_ML_BREAKER_COOLDOWN", 30*time.Second),

		GatewayTimeout:     getEnvAsDuration("AIFX_GATEWAY_TIMEOUT", 5*time.Second),
		GatewayCacheMaxTTL: getEnvAsDuration("AIFX_GATEWAY_CACHE_MAX_TTL", 60*time.Second),
		GatewayRatePerSec:  getEnvAsFloat("AIFX_GATEWAY_RATE_PER_SEC", 5),
		GatewayRateBurst:   getEnvAsInt("AIFX_GATEWAY_RATE_BURST", 10),

		PrimaryProviderName:    getEnv("AIFX_PRIMARY_PROVIDER_NAME", "primary"),
		PrimaryProviderBaseURL: getEnv("AIFX_PRIMARY_PROVIDER_URL", "http://localhost:9200"),
		BackupProviderName:     getEnv("AIFX_BACKUP_PROVIDER_NAME", "backup"),
		BackupProviderBaseURL:  getEnv("AIFX_BACKUP_PROVIDER_URL", "http://localhost:9201"),

		DefaultCooldownMinutes: getEnvAsInt("AIFX_DEFAULT_COOLDOWN_MINUTES", 60),
		DefaultDailyCap:        getEnvAsInt("AIFX_DEFAULT_DAILY_CAP", 20),

		DiscordWebhookBase: getEnv("AIFX_DISCORD_WEBHOOK_BASE", ""),
		LineChannelToken:   getEnv("AIFX_LINE_CHANNEL_TOKEN", ""),

		SMTPHost: getEnv("AIFX_SMTP_HOST", "localhost"),
		SMTPPort: getEnvAsInt("AIFX_SMTP_PORT", 587),
		SMTPUser: getEnv("AIFX_SMTP_USER", ""),
		SMTPPass: getEnv("AIFX_SMTP_PASS", ""),
		SMTPFrom: getEnv("AIFX_SMTP_FROM", "alerts@aifx.local"),

		ExternalBusAddr:  getEnv("AIFX_EXTERNAL_BUS_ADDR", "localhost:6379"),
		ExternalBusTopic: getEnv("AIFX_EXTERNAL_BUS_TOPIC", "trading-signals"),

		ArchiveS3Bucket:  getEnv("AIFX_ARCHIVE_S3_BUCKET", ""),
		ArchiveAfterDays: getEnvAsInt("AIFX_ARCHIVE_AFTER_DAYS", 90),

		PositionMonitorInterval:  getEnvAsDuration("AIFX_POSITION_MONITOR_INTERVAL", 60*time.Second),
		DailySummaryCronSchedule: getEnv("AIFX_DAILY_SUMMARY_CRON", "0 21 * * *"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks structural invariants that can't be expressed as env
// defaults (e.g. zero or negative durations that would make timers panic).
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid AIFX_PORT: %d", c.Port)
	}
	if c.DispatchWorkers <= 0 {
		return fmt.Errorf("AIFX_DISPATCH_WORKERS must be positive")
	}
	if c.DispatchQueueSize <= 0 {
		return fmt.Errorf("AIFX_DISPATCH_QUEUE_SIZE must be positive")
	}
	if c.MLTimeout <= 0 || c.GatewayTimeout <= 0 {
		return fmt.Errorf("ML and gateway timeouts must be positive")
	}
	if c.GatewayRatePerSec <= 0 || c.GatewayRateBurst <= 0 {
		return fmt.Errorf("gateway rate limit configuration must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
