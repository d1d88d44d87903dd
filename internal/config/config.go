package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Gupshup WhatsApp provider
	GupshupAPIKey       string
	GupshupBaseURL      string
	GupshupSourceNumber string
	GupshupTimeout      time.Duration

	// Razorpay payment webhooks
	RazorpayWebhookSecret string

	// Auth
	JWTSecret string

	// Dispatch job
	DispatchBatchSize   int
	DispatchMaxAttempts int
	DispatchClaimTTL    time.Duration
	DispatchPollEvery   time.Duration // 0 disables the in-process poller

	// Rate limiting
	RateLimitPerMinute int
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "orderping",
		DBName:    "orderping",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		GupshupBaseURL: "https://api.gupshup.io/wa/api/v1",
		GupshupTimeout: 15 * time.Second,

		DispatchBatchSize:   10,
		DispatchMaxAttempts: 5,
		DispatchClaimTTL:    5 * time.Minute,

		RateLimitPerMinute: 100,
	}

	var err error
	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}
	strEnv("LOG_LEVEL", &cfg.LogLevel)
	strEnv("ENV", &cfg.Env)

	strEnv("DB_HOST", &cfg.DBHost)
	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	strEnv("DB_USER", &cfg.DBUser)
	strEnv("DB_PASSWORD", &cfg.DBPassword)
	strEnv("DB_NAME", &cfg.DBName)
	strEnv("DB_SSLMODE", &cfg.DBSSLMode)

	strEnv("REDIS_HOST", &cfg.RedisHost)
	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	strEnv("REDIS_PASSWORD", &cfg.RedisPassword)
	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	strEnv("GUPSHUP_API_KEY", &cfg.GupshupAPIKey)
	strEnv("GUPSHUP_BASE_URL", &cfg.GupshupBaseURL)
	strEnv("GUPSHUP_SOURCE_NUMBER", &cfg.GupshupSourceNumber)
	if cfg.GupshupTimeout, err = durationEnv("GUPSHUP_TIMEOUT", cfg.GupshupTimeout); err != nil {
		return nil, err
	}

	strEnv("RAZORPAY_WEBHOOK_SECRET", &cfg.RazorpayWebhookSecret)
	strEnv("JWT_SECRET", &cfg.JWTSecret)

	if cfg.DispatchBatchSize, err = intEnv("DISPATCH_BATCH_SIZE", cfg.DispatchBatchSize); err != nil {
		return nil, err
	}
	if cfg.DispatchMaxAttempts, err = intEnv("DISPATCH_MAX_ATTEMPTS", cfg.DispatchMaxAttempts); err != nil {
		return nil, err
	}
	if cfg.DispatchClaimTTL, err = durationEnv("DISPATCH_CLAIM_TTL", cfg.DispatchClaimTTL); err != nil {
		return nil, err
	}
	if cfg.DispatchPollEvery, err = durationEnv("DISPATCH_POLL_EVERY", cfg.DispatchPollEvery); err != nil {
		return nil, err
	}

	if cfg.RateLimitPerMinute, err = intEnv("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute); err != nil {
		return nil, err
	}

	return cfg, nil
}

func strEnv(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
