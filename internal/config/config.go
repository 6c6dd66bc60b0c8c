package config

import (
	"strconv"
	"time"

	"os"

	"github.com/joho/godotenv"
)

// Config carries everything the binaries need. Values are read once at
// startup and passed into constructors; nothing reads the environment after
// Load returns, so tests can build a Config literal with deterministic
// secrets and fee rates.
type Config struct {
	DatabaseDSN  string
	MongoURI     string
	RedisAddr    string
	RabbitURL    string
	HTTPAddr     string
	OTLPEndpoint string

	// Currency of trip prices, e.g. "COP". Embedded in the checkout
	// integrity signature.
	Currency string

	// PlatformFeeRate is the fraction of the gross price kept by the
	// platform. Zero means full passthrough to the transport company.
	PlatformFeeRate float64

	// IntegritySecret signs the checkout payload handed to the buyer's
	// client. WebhookSecret verifies inbound gateway callbacks. They are
	// distinct secrets and must never be swapped.
	IntegritySecret string
	WebhookSecret   string

	// EnforceWebhookSignature may be disabled for local gateways that do
	// not sign events. Production keeps it on.
	EnforceWebhookSignature bool

	IssueLockTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	feeRate, _ := strconv.ParseFloat(os.Getenv("PLATFORM_FEE_RATE"), 64)

	currency := os.Getenv("CURRENCY")
	if currency == "" {
		currency = "COP"
	}

	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	lockTTL, _ := time.ParseDuration(os.Getenv("ISSUE_LOCK_TTL"))
	if lockTTL == 0 {
		lockTTL = 2 * time.Second
	}

	return &Config{
		DatabaseDSN:             os.Getenv("DATABASE_DSN"),
		MongoURI:                os.Getenv("MONGO_URI"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RabbitURL:               os.Getenv("RABBIT_URL"),
		HTTPAddr:                httpAddr,
		OTLPEndpoint:            os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Currency:                currency,
		PlatformFeeRate:         feeRate,
		IntegritySecret:         os.Getenv("CHECKOUT_INTEGRITY_SECRET"),
		WebhookSecret:           os.Getenv("GATEWAY_WEBHOOK_SECRET"),
		EnforceWebhookSignature: os.Getenv("WEBHOOK_SIGNATURE_ENFORCED") != "false",
		IssueLockTTL:            lockTTL,
	}, nil
}
