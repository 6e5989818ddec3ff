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
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	BackendBaseURL     string
	FiscalSource       string
	CORSAllowedOrigins []string

	CurrencyScale     int32
	LowStockThreshold int
	SessionTTL        time.Duration
	SessionSweep      time.Duration
	CatalogCacheTTL   time.Duration
	IdempotencyTTL    time.Duration
	BodyLimitBytes    int64

	OutboundTimeout     time.Duration
	RetryBase           time.Duration
	RetryMaxAttempts    int
	RetryJitter         float64
	CircuitMinRequests  int
	CircuitFailureRatio float64
	CircuitOpenFor      time.Duration

	StockDecrementTimeout time.Duration
	StockConcurrency      int

	CheckoutRateLimit    int
	CheckoutRateWindow   time.Duration
	CheckoutRateStrategy string

	EventStream       string
	EventStreamMaxLen int64

	QueueName         string
	ReceiptMaxRetry   int
	ReceiptRetention  time.Duration
	ReceiptSentTTL    time.Duration
	WorkerConcurrency int
	LockRetryBackoff  time.Duration
	MailFrom          string

	LogFormat       string
	LogLevel        string
	MetricsEnabled  bool
	MetricsBuckets  string
	TracingEnabled  bool
	TracingExporter string
	OTLPEndpoint    string
	TracingSampling float64
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           k.String("REDIS_URL"),
		BackendBaseURL:     strings.TrimRight(strings.TrimSpace(k.String("BACKEND_BASE_URL")), "/"),
		FiscalSource:       strings.ToLower(valueOrDefault(k.String("FISCAL_SOURCE"), "rest")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		CurrencyScale:     int32(parseInt(k.String("CURRENCY_SCALE"), 2)),
		LowStockThreshold: parseInt(k.String("LOW_STOCK_THRESHOLD"), 3),
		SessionTTL:        parseDuration(k.String("SESSION_TTL"), "2h"),
		SessionSweep:      parseDuration(k.String("SESSION_SWEEP_INTERVAL"), "1m"),
		CatalogCacheTTL:   parseDuration(k.String("CATALOG_CACHE_TTL"), "30s"),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		BodyLimitBytes:    int64(parseInt(k.String("BODY_LIMIT_BYTES"), 64<<10)),

		OutboundTimeout:     parseDuration(k.String("OUTBOUND_TIMEOUT"), "3s"),
		RetryBase:           parseDuration(k.String("RETRY_BASE"), "100ms"),
		RetryMaxAttempts:    parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryJitter:         parseFloat(k.String("RETRY_JITTER"), 0.2),
		CircuitMinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 5),
		CircuitFailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),

		StockDecrementTimeout: parseDuration(k.String("STOCK_DECREMENT_TIMEOUT"), "5s"),
		StockConcurrency:      parseInt(k.String("STOCK_CONCURRENCY"), 8),

		CheckoutRateLimit:    parseInt(k.String("CHECKOUT_RATE_LIMIT"), 30),
		CheckoutRateWindow:   parseDuration(k.String("CHECKOUT_RATE_WINDOW"), "1m"),
		CheckoutRateStrategy: strings.ToLower(valueOrDefault(k.String("CHECKOUT_RATE_STRATEGY"), "fixed")),

		EventStream:       valueOrDefault(k.String("EVENT_STREAM"), "pos:events"),
		EventStreamMaxLen: int64(parseInt(k.String("EVENT_STREAM_MAXLEN"), 10000)),

		QueueName:         valueOrDefault(k.String("QUEUE_NAME"), "receipts"),
		ReceiptMaxRetry:   parseInt(k.String("RECEIPT_MAX_RETRY"), 5),
		ReceiptRetention:  parseDuration(k.String("RECEIPT_RETENTION"), "24h"),
		ReceiptSentTTL:    parseDuration(k.String("RECEIPT_SENT_TTL"), "168h"),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 4),
		LockRetryBackoff:  parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		MailFrom:          valueOrDefault(k.String("MAIL_FROM"), "receipts@vapeshop.local"),

		LogFormat:       valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:        valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsEnabled:  parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsBuckets:  k.String("OBS_METRICS_BUCKETS_MS"),
		TracingEnabled:  parseBool(k.String("OBS_ENABLE_TRACING"), false),
		TracingExporter: valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		OTLPEndpoint:    k.String("OBS_OTLP_ENDPOINT"),
		TracingSampling: parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		ShutdownTimeout: parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.BackendBaseURL == "" {
		return nil, errors.New("BACKEND_BASE_URL is required")
	}
	switch cfg.FiscalSource {
	case "rest", "static":
	default:
		return nil, fmt.Errorf("FISCAL_SOURCE must be rest or static, got %q", cfg.FiscalSource)
	}
	switch cfg.CheckoutRateStrategy {
	case "fixed", "sliding":
	default:
		return nil, fmt.Errorf("CHECKOUT_RATE_STRATEGY must be fixed or sliding, got %q", cfg.CheckoutRateStrategy)
	}
	if cfg.CurrencyScale < 0 {
		return nil, errors.New("CURRENCY_SCALE must not be negative")
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

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
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
