package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Accounting platform API
	AccountingAPIURL string
	AccountingAPIKey string
	LinkBaseURL      string
	PageSize         int

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Platform catalog cache
	CatalogCacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Financing parameters
	RiskConcentrationThreshold decimal.Decimal
	MinDaysLeftToPay           int
	HomeCountry                string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AccountingAPIURL: getEnv("ACCOUNTING_API_URL", "https://api.codat.io"),
		AccountingAPIKey: getEnv("ACCOUNTING_API_KEY", ""),
		LinkBaseURL:      getEnv("LINK_BASE_URL", "https://link.codat.io"),
		PageSize:         getEnvInt("PAGE_SIZE", 250),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CatalogCacheTTL: getEnvDuration("CATALOG_CACHE_TTL", time.Hour),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		RiskConcentrationThreshold: getEnvDecimal("RISK_CONCENTRATION_THRESHOLD", "0.5"),
		MinDaysLeftToPay:           getEnvInt("MIN_DAYS_LEFT_TO_PAY", 14),
		HomeCountry:                getEnv("HOME_COUNTRY", "United States"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}
