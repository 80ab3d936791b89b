// Package config loads service settings from the environment (optionally a
// local .env file) and algorithm tuning from a YAML file.
package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the environment settings of cmd/chartd.
type Config struct {
	// Instrument and feed
	Symbol       string
	Period       string
	FeedURL      string
	FeedInterval time.Duration
	FeedRefresh  time.Duration
	FeedLimit    int

	// Storage
	SQLitePath    string // candle archive, empty disables
	JournalPath   string // trade journal, empty disables
	RedisAddr     string // empty disables the Redis publisher
	RedisPassword string

	// Surfaces
	MetricsAddr       string
	HTTPAddr          string
	ControlTOTPSecret string

	// Notifications
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string

	LogLevel       string
	TracingEnabled bool
	TuningPath     string
}

// Load reads .env (if present) and then the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] .env: %v", err)
	}
	return &Config{
		Symbol:       strings.ToUpper(getEnv("SYMBOL", "BTCUSDT")),
		Period:       getEnv("PERIOD", "4h"),
		FeedURL:      getEnv("FEED_URL", "https://api.binance.com"),
		FeedInterval: getDuration("FEED_INTERVAL", 5*time.Second),
		FeedRefresh:  getDuration("FEED_REFRESH", 0),
		FeedLimit:    getInt("FEED_LIMIT", 1500),

		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		JournalPath:   getEnv("JOURNAL_PATH", "data/trades.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		MetricsAddr:       getEnv("METRICS_ADDR", ":9090"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		ControlTOTPSecret: getEnv("CONTROL_TOTP_SECRET", ""),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		TracingEnabled: getEnv("TRACING_ENABLED", "false") == "true",
		TuningPath:     getEnv("SDA_CONFIG", "sda.yaml"),
	}
}

// Disabled reports whether a storage path or address was set to "off".
func Disabled(v string) bool {
	return v == "" || strings.EqualFold(v, "off") || strings.EqualFold(v, "none")
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] %s=%q is not an integer, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] %s=%q is not a duration, using %s", key, v, fallback)
		return fallback
	}
	return d
}
