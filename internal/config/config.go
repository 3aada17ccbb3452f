package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/backend-billing/internal/pricing"
)

// Ledger backends selectable through LEDGER_BACKEND.
const (
	LedgerNone     = "none"
	LedgerMemory   = "memory"
	LedgerRedis    = "redis"
	LedgerPostgres = "postgres"
)

// Rate limit strategies selectable through RATE_LIMIT_STRATEGY. Both use
// Redis when REDIS_URL is set and process memory otherwise.
const (
	RateLimitSliding = "sliding"
	RateLimitFixed   = "fixed"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	LedgerBackend    string
	LockTTL          time.Duration
	LockRetryBackoff time.Duration
	IdempotencyTTL   time.Duration

	RateLimitStrategy      string
	RateLimitWindow        time.Duration
	RateLimitMax           int
	BodyLimitBytes         int64
	SecurityHeadersEnabled bool

	DefaultDiscountMode     pricing.DiscountMode
	CurrencyCode            string
	SettlementEventsEnabled bool
	EventsBreakerOpenFor    time.Duration
	WorkerConcurrency       int
	WorkerRetryBase         time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:                  valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                    valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:             strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:                strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins:      splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		LedgerBackend:           strings.ToLower(valueOrDefault(k.String("LEDGER_BACKEND"), LedgerNone)),
		LockTTL:                 parseDuration(k.String("LOCK_TTL"), "5s"),
		LockRetryBackoff:        parseDuration(k.String("LOCK_RETRY_BACKOFF"), "25ms"),
		IdempotencyTTL:          parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimitStrategy:       strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_STRATEGY"), RateLimitSliding)),
		RateLimitWindow:         parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:            parseInt(k.String("RATE_LIMIT_MAX"), 120),
		BodyLimitBytes:          int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		SecurityHeadersEnabled:  parseBoolDefault(k.String("SECURITY_HEADERS_ENABLED"), true),
		CurrencyCode:            strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "INR")),
		SettlementEventsEnabled: parseBool(k.String("SETTLEMENT_EVENTS_ENABLED")),
		EventsBreakerOpenFor:    parseDuration(k.String("EVENTS_BREAKER_OPEN_FOR"), "30s"),
		WorkerConcurrency:       parseInt(k.String("WORKER_CONCURRENCY"), 10),
		WorkerRetryBase:         parseDuration(k.String("WORKER_RETRY_BASE"), "2s"),
	}

	mode, err := pricing.ParseDiscountMode(k.String("DEFAULT_DISCOUNT_MODE"))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_DISCOUNT_MODE: %w", err)
	}
	cfg.DefaultDiscountMode = mode

	switch cfg.LedgerBackend {
	case LedgerNone, LedgerMemory:
	case LedgerRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for the redis ledger")
		}
	case LedgerPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres ledger")
		}
	default:
		return nil, fmt.Errorf("LEDGER_BACKEND %q is not one of none, memory, redis, postgres", cfg.LedgerBackend)
	}
	if cfg.SettlementEventsEnabled && cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required when SETTLEMENT_EVENTS_ENABLED is set")
	}
	if cfg.RateLimitStrategy != RateLimitSliding && cfg.RateLimitStrategy != RateLimitFixed {
		return nil, fmt.Errorf("RATE_LIMIT_STRATEGY %q is not one of sliding, fixed", cfg.RateLimitStrategy)
	}
	if cfg.RateLimitMax <= 0 {
		return nil, errors.New("RATE_LIMIT_MAX must be positive")
	}
	if cfg.BodyLimitBytes <= 0 {
		return nil, errors.New("BODY_LIMIT_BYTES must be positive")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// LedgerEnabled reports whether payments are journaled server-side.
func (c *Config) LedgerEnabled() bool {
	return c.LedgerBackend != "" && c.LedgerBackend != LedgerNone
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseBoolDefault(value string, fallback bool) bool {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return parseBool(value)
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
