package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string
	ServiceName string
	Env         string

	// PostgresDSN empty selects the in-memory store (dev mode, tests).
	PostgresDSN string
	// RedisAddr empty disables the cache fast paths.
	RedisAddr    string
	KafkaBrokers []string

	ProviderBaseURL string
	ProviderSecret  string
	ProviderTimeout time.Duration
	ProviderRetries int
	ProviderBackoff time.Duration

	WebhookSecret string
	WebhookSkew   time.Duration

	Currency          string
	PriceToleranceBPS int64

	IdempotencyWindow time.Duration
	ReservationTTL    time.Duration
	SweepInterval     time.Duration
	SweepBatch        int

	OutboxInterval  time.Duration
	OutboxBatch     int
	ShutdownTimeout time.Duration
}

func Load() Config {
	_ = godotenv.Load()
	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8081"),
		ServiceName: getenv("SERVICE_NAME", "recon-core"),
		Env:         getenv("APP_ENV", "dev"),

		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		KafkaBrokers: splitCSV(os.Getenv("KAFKA_BROKERS")),

		ProviderBaseURL: getenv("PROVIDER_BASE_URL", "https://api.payments.example"),
		ProviderSecret:  getenv("PROVIDER_SECRET_KEY", "sk_test_dev"),
		ProviderTimeout: getduration("PROVIDER_TIMEOUT", 10*time.Second),
		ProviderRetries: getint("PROVIDER_MAX_RETRIES", 3),
		ProviderBackoff: getduration("PROVIDER_RETRY_BACKOFF", 500*time.Millisecond),

		WebhookSecret: getenv("WEBHOOK_SECRET", "whsec_dev"),
		WebhookSkew:   getduration("WEBHOOK_MAX_SKEW", 5*time.Minute),

		Currency:          getenv("CURRENCY", "pkr"),
		PriceToleranceBPS: int64(getint("PRICE_TOLERANCE_BPS", 0)),

		IdempotencyWindow: getduration("IDEMPOTENCY_WINDOW", 10*time.Minute),
		ReservationTTL:    getduration("RESERVATION_TTL", 30*time.Minute),
		SweepInterval:     getduration("SWEEP_INTERVAL", time.Minute),
		SweepBatch:        getint("SWEEP_BATCH", 100),

		OutboxInterval:  getduration("OUTBOX_INTERVAL", 2*time.Second),
		OutboxBatch:     getint("OUTBOX_BATCH", 50),
		ShutdownTimeout: getduration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
