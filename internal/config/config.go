package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	TxMaxAttempts     int
	AutoMigrate       bool

	RedisURL string

	RabbitMQURL           string
	PackageEventsExchange string

	Stripe   StripeConfig
	Checkout CheckoutConfig

	InternalAPIKey string

	ClaimRateLimit RateLimitConfig

	SeedDemoPackages bool
}

type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	APIBase          string
	WebhookTolerance time.Duration
	Timeout          time.Duration
}

type CheckoutConfig struct {
	SuccessURL string
	CancelURL  string
	// SessionTTL bounds the processor session lifetime; Stripe accepts 30m to 24h.
	SessionTTL time.Duration
}

type RateLimitConfig struct {
	PerSecond float64
	Burst     int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:      getenv("APP_SERVICE", "packclaim"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: strings.TrimSpace(getenv("OTLP_ENDPOINT", "")),

		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "packclaim"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "packclaim.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: getenvDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		DBConnMaxIdleTime: getenvDuration("DATABASE_CONN_MAX_IDLE_TIME", 5*time.Minute),
		TxMaxAttempts:     int(getenvInt64("TX_MAX_ATTEMPTS", 5)),
		AutoMigrate:       getenvBool("DATABASE_AUTO_MIGRATE", true),

		RedisURL: strings.TrimSpace(getenv("REDIS_URL", "")),

		RabbitMQURL:           strings.TrimSpace(getenv("RABBITMQ_URL", "")),
		PackageEventsExchange: getenv("PACKAGE_EVENTS_EXCHANGE", "package_events"),

		Stripe: StripeConfig{
			SecretKey:        strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:    strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			APIBase:          strings.TrimRight(getenv("STRIPE_API_BASE", "https://api.stripe.com"), "/"),
			WebhookTolerance: getenvDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
			Timeout:          getenvDuration("STRIPE_TIMEOUT", 15*time.Second),
		},
		Checkout: CheckoutConfig{
			SuccessURL: getenv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/checkout/success"),
			CancelURL:  getenv("CHECKOUT_CANCEL_URL", "http://localhost:3000/checkout/cancel"),
			SessionTTL: getenvDuration("CHECKOUT_SESSION_TTL", time.Hour),
		},

		InternalAPIKey: strings.TrimSpace(getenv("INTERNAL_API_KEY", "")),

		ClaimRateLimit: RateLimitConfig{
			PerSecond: getenvFloat("CLAIM_RATE_LIMIT_PER_SECOND", 2),
			Burst:     int(getenvInt64("CLAIM_RATE_LIMIT_BURST", 10)),
		},

		SeedDemoPackages: getenvBool("SEED_DEMO_PACKAGES", false),
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("90s") or plain seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
