package config

import (
	"log"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string

	AllocationMaxAttempts int
	CapacityCountTerminal bool
	AvgServiceMinutes     int
	PeriodLocation        *time.Location

	NotifyProvider     string
	NotifyTimeout      time.Duration
	NotifyWebhookURL   string
	NotifyWebhookToken string
	NotifyAMQPURL      string
	NotifyAMQPQueue    string
	NotifyRedisChannel string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitPerMinute       int
	RateLimitBurst           int
	ClinicRateLimitPerMinute int
	ClinicRateLimitBurst     int
}

// Load reads the process environment, after filling it from a .env file in
// the working directory when one exists. Variables already set win.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                     port,
		DatabaseURL:              os.Getenv("DB_DSN"),
		AllocationMaxAttempts:    readInt("ALLOCATION_MAX_ATTEMPTS", 3),
		CapacityCountTerminal:    readBool("CAPACITY_COUNT_TERMINAL", true),
		AvgServiceMinutes:        readInt("AVG_SERVICE_MINUTES", 0),
		PeriodLocation:           readLocation("PERIOD_TIMEZONE", time.UTC),
		NotifyProvider:           readString("NOTIFY_PROVIDER", "log"),
		NotifyTimeout:            readDurationSeconds("NOTIFY_TIMEOUT_SECONDS", 5),
		NotifyWebhookURL:         os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyWebhookToken:       os.Getenv("NOTIFY_WEBHOOK_TOKEN"),
		NotifyAMQPURL:            os.Getenv("NOTIFY_AMQP_URL"),
		NotifyAMQPQueue:          readString("NOTIFY_AMQP_QUEUE", "ticket_notifications"),
		NotifyRedisChannel:       readString("NOTIFY_REDIS_CHANNEL", "ticket_notifications"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  readInt("REDIS_DB", 0),
		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		ClinicRateLimitPerMinute: readInt("CLINIC_RATE_LIMIT_PER_MIN", 600),
		ClinicRateLimitBurst:     readInt("CLINIC_RATE_LIMIT_BURST", 120),
	}
}

func readString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readLocation(key string, fallback *time.Location) *time.Location {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	location, err := time.LoadLocation(raw)
	if err != nil {
		log.Printf("config: %s=%q ignored: %v", key, raw, err)
		return fallback
	}
	return location
}
