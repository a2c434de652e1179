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

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS Services
	AWSRegion      string
	AWSEndpoint    string // LocalStack, optional
	EmailTransport string // smtp or ses
	SESFromEmail   string
	SNSTopicARN    string // delivery outcome events, empty disables
	SQSEventsURL   string // ERP entity events, empty disables

	// Links and branding used in message variables
	FrontendURL    string
	CompanyAddress string

	// Sweeps
	SchedulerBackend  string // cron, asynq or off
	SweepTimezone     string
	SweepOverdueCron  string
	SweepUpcomingCron string

	// Retry policy for failed log entries
	RetryMax     int
	RetryBackoff time.Duration

	// WhatsApp API pacing, requests per second
	WhatsAppRatePerSec float64
	ChannelTimeout     time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "fixzone",
		DBName:    "fixzone",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		AWSRegion:      "us-east-1",
		EmailTransport: "smtp",
		SESFromEmail:   "noreply@fixzzone.com",

		FrontendURL:    "http://localhost:3000",
		CompanyAddress: "القاهرة، مصر",

		SchedulerBackend:  "cron",
		SweepTimezone:     "Africa/Cairo",
		SweepOverdueCron:  "0 9 * * *",
		SweepUpcomingCron: "0 10 * * *",

		RetryMax:     3,
		RetryBackoff: time.Minute,

		WhatsAppRatePerSec: 1,
		ChannelTimeout:     15 * time.Second,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}
	cfg.LogLevel = stringEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Env = stringEnv("ENV", cfg.Env)

	// Database config
	cfg.DBHost = stringEnv("DB_HOST", cfg.DBHost)
	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	cfg.DBUser = stringEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = stringEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = stringEnv("DB_NAME", cfg.DBName)
	cfg.DBSSLMode = stringEnv("DB_SSLMODE", cfg.DBSSLMode)

	// Redis config
	cfg.RedisHost = stringEnv("REDIS_HOST", cfg.RedisHost)
	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	cfg.RedisPassword = stringEnv("REDIS_PASSWORD", cfg.RedisPassword)
	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	cfg.AWSRegion = stringEnv("AWS_REGION", cfg.AWSRegion)
	cfg.AWSEndpoint = stringEnv("AWS_ENDPOINT_URL", cfg.AWSEndpoint)
	cfg.EmailTransport = stringEnv("EMAIL_TRANSPORT", cfg.EmailTransport)
	if cfg.EmailTransport != "smtp" && cfg.EmailTransport != "ses" {
		return nil, fmt.Errorf("invalid EMAIL_TRANSPORT: %q (smtp or ses)", cfg.EmailTransport)
	}
	cfg.SESFromEmail = stringEnv("SES_FROM_EMAIL", cfg.SESFromEmail)
	cfg.SNSTopicARN = stringEnv("SNS_TOPIC_ARN", cfg.SNSTopicARN)
	cfg.SQSEventsURL = stringEnv("SQS_EVENTS_QUEUE_URL", cfg.SQSEventsURL)

	cfg.FrontendURL = stringEnv("FRONTEND_URL", cfg.FrontendURL)
	cfg.CompanyAddress = stringEnv("COMPANY_ADDRESS", cfg.CompanyAddress)

	cfg.SchedulerBackend = stringEnv("SCHEDULER_BACKEND", cfg.SchedulerBackend)
	switch cfg.SchedulerBackend {
	case "cron", "asynq", "off":
	default:
		return nil, fmt.Errorf("invalid SCHEDULER_BACKEND: %q (cron, asynq or off)", cfg.SchedulerBackend)
	}
	cfg.SweepTimezone = stringEnv("SWEEP_TIMEZONE", cfg.SweepTimezone)
	if _, err := time.LoadLocation(cfg.SweepTimezone); err != nil {
		return nil, fmt.Errorf("invalid SWEEP_TIMEZONE: %w", err)
	}
	cfg.SweepOverdueCron = stringEnv("SWEEP_OVERDUE_CRON", cfg.SweepOverdueCron)
	cfg.SweepUpcomingCron = stringEnv("SWEEP_UPCOMING_CRON", cfg.SweepUpcomingCron)

	if cfg.RetryMax, err = intEnv("RETRY_MAX", cfg.RetryMax); err != nil {
		return nil, err
	}
	if cfg.RetryBackoff, err = durationEnv("RETRY_BACKOFF", cfg.RetryBackoff); err != nil {
		return nil, err
	}
	if cfg.ChannelTimeout, err = durationEnv("CHANNEL_TIMEOUT", cfg.ChannelTimeout); err != nil {
		return nil, err
	}

	if rate := os.Getenv("WHATSAPP_RATE_PER_SEC"); rate != "" {
		r, err := strconv.ParseFloat(rate, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid WHATSAPP_RATE_PER_SEC: %w", err)
		}
		cfg.WhatsAppRatePerSec = r
	}

	return cfg, nil
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
