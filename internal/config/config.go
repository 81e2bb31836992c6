package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Spreadsheet ledger API
	SheetsBaseURL      string
	SheetsAPIToken     string
	SheetsTimeout      time.Duration
	SheetsMaxRetries   int
	SheetsRetryBackoff time.Duration
	// SheetsRowOffset is the constant between a reorder request id and its
	// expected spreadsheet row (header rows above the first data row).
	SheetsRowOffset int

	// Chat messaging platform
	ChatBaseURL       string
	ChatChannelToken  string
	ChatWebhookSecret string
	ChatTimeout       time.Duration
	ChatMaxRetries    int
	ChatRetryBackoff  time.Duration

	// Notification dispatch retry sweep
	DispatchMaxAttempts int
	DispatchRetryDelay  time.Duration
	DispatchSweepEvery  time.Duration

	// Reconciler
	ReconcileInterval       time.Duration
	ReconcileDriftThreshold int
	CompleteSweepEvery      time.Duration

	// Patient aggregate cache
	CacheTTL time.Duration

	AdminJWTSecret string

	// Admin API CORS and webhook throttling
	CORSAllowedOrigins []string
	WebhookRateLimit   int
	WebhookRateBurst   int

	// Operator alert email (SendGrid)
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	AlertRecipients   string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		SheetsBaseURL:      getEnv("SHEETS_BASE_URL", ""),
		SheetsAPIToken:     getEnv("SHEETS_API_TOKEN", ""),
		SheetsTimeout:      getEnvAsDuration("SHEETS_TIMEOUT", 10*time.Second),
		SheetsMaxRetries:   getEnvAsInt("SHEETS_MAX_RETRIES", 3),
		SheetsRetryBackoff: getEnvAsDuration("SHEETS_RETRY_BACKOFF", 500*time.Millisecond),
		SheetsRowOffset:    getEnvAsInt("SHEETS_ROW_OFFSET", 1),

		ChatBaseURL:       getEnv("CHAT_BASE_URL", ""),
		ChatChannelToken:  getEnv("CHAT_CHANNEL_TOKEN", ""),
		ChatWebhookSecret: getEnv("CHAT_WEBHOOK_SECRET", ""),
		ChatTimeout:       getEnvAsDuration("CHAT_TIMEOUT", 10*time.Second),
		ChatMaxRetries:    getEnvAsInt("CHAT_MAX_RETRIES", 3),
		ChatRetryBackoff:  getEnvAsDuration("CHAT_RETRY_BACKOFF", 250*time.Millisecond),

		DispatchMaxAttempts: getEnvAsInt("DISPATCH_MAX_ATTEMPTS", 5),
		DispatchRetryDelay:  getEnvAsDuration("DISPATCH_RETRY_DELAY", 5*time.Minute),
		DispatchSweepEvery:  getEnvAsDuration("DISPATCH_SWEEP_EVERY", time.Minute),

		ReconcileInterval:       getEnvAsDuration("RECONCILE_INTERVAL", 30*time.Minute),
		ReconcileDriftThreshold: getEnvAsInt("RECONCILE_DRIFT_THRESHOLD", 5),
		CompleteSweepEvery:      getEnvAsDuration("COMPLETE_SWEEP_EVERY", 15*time.Minute),

		CacheTTL: getEnvAsDuration("CACHE_TTL", 15*time.Minute),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		WebhookRateLimit:   getEnvAsInt("WEBHOOK_RATE_LIMIT", 20),
		WebhookRateBurst:   getEnvAsInt("WEBHOOK_RATE_BURST", 40),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Clinic Reservation Engine"),
		AlertRecipients:   getEnv("ALERT_RECIPIENTS", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList retrieves a comma-separated environment variable as a slice,
// dropping empty entries.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
