// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	CORSAllowedOrigins []string // empty allows any origin without credentials

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Billing provider
	StripeSecretKey     string
	StripeWebhookSecret string
	ProviderTimeout     time.Duration // upper bound on a single provider round-trip
	StaleAfter          time.Duration // local snapshot older than this is flagged stale
	ReconcileInterval   time.Duration // 0 disables the background reconciliation timer
	ReportingCurrency   string

	// Object storage
	S3Bucket           string
	S3Region           string
	S3Endpoint         string // LocalStack/MinIO
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// Entitlements
	KillSwitches []string // features disabled platform-wide

	// Sessions
	SessionTTL               time.Duration
	BootstrapSuperadminEmail string

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultProviderTimeout   = 5 * time.Second
	DefaultStaleAfter        = 24 * time.Hour
	DefaultReconcileInterval = 15 * time.Minute
	DefaultSessionTTL        = 12 * time.Hour
	DefaultS3Region          = "us-east-1"
	DefaultReportingCurrency = "usd"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                     getEnv("PORT", DefaultPort),
		Env:                      getEnv("ENV", DefaultEnv),
		LogLevel:                 getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:                getEnv("LOG_FORMAT", DefaultLogFormat),
		CORSAllowedOrigins:       splitOrigins(os.Getenv("CORS_ALLOWED_ORIGINS")),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		StripeSecretKey:          os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:      os.Getenv("STRIPE_WEBHOOK_SECRET"),
		ProviderTimeout:          getEnvDuration("PROVIDER_TIMEOUT", DefaultProviderTimeout),
		StaleAfter:               getEnvDuration("STALE_AFTER", DefaultStaleAfter),
		ReconcileInterval:        getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
		ReportingCurrency:        strings.ToLower(getEnv("REPORTING_CURRENCY", DefaultReportingCurrency)),
		S3Bucket:                 os.Getenv("S3_BUCKET"),
		S3Region:                 getEnv("S3_REGION", DefaultS3Region),
		S3Endpoint:               os.Getenv("S3_ENDPOINT"),
		AWSAccessKeyID:           os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey:       os.Getenv("AWS_SECRET_ACCESS_KEY"),
		KillSwitches:             splitList(os.Getenv("KILL_SWITCHES")),
		SessionTTL:               getEnvDuration("SESSION_TTL", DefaultSessionTTL),
		BootstrapSuperadminEmail: strings.ToLower(strings.TrimSpace(os.Getenv("BOOTSTRAP_SUPERADMIN_EMAIL"))),
		OTLPEndpoint:             os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
// Provider credentials are optional: features depending on them answer
// CONFIG_ERROR at request time instead of blocking startup.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must not be negative")
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
	}
	if c.StripeSecretKey != "" && !strings.HasPrefix(c.StripeSecretKey, "sk_") && !strings.HasPrefix(c.StripeSecretKey, "rk_") {
		return fmt.Errorf("STRIPE_SECRET_KEY must start with sk_ or rk_")
	}
	if (c.AWSAccessKeyID == "") != (c.AWSSecretAccessKey == "") {
		return fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// BillingConfigured reports whether provider calls can be made.
func (c *Config) BillingConfigured() bool {
	return c.StripeSecretKey != ""
}

// StorageConfigured reports whether uploads go to S3 rather than memory.
func (c *Config) StorageConfigured() bool {
	return c.S3Bucket != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "15m") or bare seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs := getEnvInt64(key, -1); secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// splitOrigins keeps case: origins are compared verbatim.
func splitOrigins(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
