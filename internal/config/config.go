package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Data backends.
const (
	BackendSupabase = "supabase"
	BackendSQLite   = "sqlite"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Data backend
	DataBackend  string
	SQLiteDBPath string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	SupabaseJWTSecret  string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxConcurrency    int
	BalanceMaxRetries int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Events
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string

	// Admin
	AdminKeyHash string

	// Billing
	Timezone          string
	ReconcileEpsilon  decimal.Decimal
	ListReconcileJobs int
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DataBackend:  strings.ToLower(getEnv("DATA_BACKEND", BackendSupabase)),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/fincontrol.db"),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseJWTSecret:  getEnv("SUPABASE_JWT_SECRET", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		InitialBackoff:    getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency:    getEnvInt("MAX_CONCURRENCY", 50),
		BalanceMaxRetries: getEnvInt("BALANCE_MAX_RETRIES", 5),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "fincontrol"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "faturas"),

		AdminKeyHash: getEnv("ADMIN_KEY_HASH", ""),

		Timezone:          getEnv("TIMEZONE", "America/Sao_Paulo"),
		ReconcileEpsilon:  getEnvDecimal("RECONCILE_EPSILON", decimal.NewFromFloat(0.01)),
		ListReconcileJobs: getEnvInt("LIST_RECONCILE_JOBS", 4),
	}
}

// Validate checks the settings the selected backend needs.
func (c *Config) Validate() error {
	switch c.DataBackend {
	case BackendSupabase:
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return fmt.Errorf("DATA_BACKEND=supabase requires SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY")
		}
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("DATA_BACKEND=sqlite requires SQLITE_DB_PATH")
		}
	default:
		return fmt.Errorf("unknown DATA_BACKEND %q", c.DataBackend)
	}
	if c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required to validate access tokens")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
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

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}
