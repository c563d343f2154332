package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process configuration loaded from environment variables.
// Empty addresses disable the corresponding integration.
type Config struct {
	// Infrastructure
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisTTL      time.Duration
	MetricsAddr   string
	LogLevel      string

	// Sweep
	SweepWorkers int

	// Alerting
	WebhookURL        string
	TelegramBotToken  string
	TelegramChatID    string
	AlertMinAdvantage float64

	// Exchange
	BybitBaseURL string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		SQLitePath:    getEnv("SQLITE_PATH", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTTL:      time.Duration(getEnvInt("REDIS_TTL_SEC", 86400)) * time.Second,
		MetricsAddr:   getEnv("METRICS_ADDR", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		SweepWorkers: getEnvInt("SWEEP_WORKERS", 0),

		WebhookURL:        getEnv("WEBHOOK_URL", ""),
		TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    getEnv("TELEGRAM_CHAT_ID", ""),
		AlertMinAdvantage: getEnvFloat("ALERT_MIN_ADVANTAGE", 0),

		BybitBaseURL: getEnv("BYBIT_BASE_URL", "https://api.bybit.com"),
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.SweepWorkers < 0 {
		return fmt.Errorf("SWEEP_WORKERS must be >= 0, got %d", c.SweepWorkers)
	}
	if c.RedisTTL <= 0 {
		return fmt.Errorf("REDIS_TTL_SEC must be positive")
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	if c.AlertMinAdvantage < 0 {
		return fmt.Errorf("ALERT_MIN_ADVANTAGE must be >= 0, got %v", c.AlertMinAdvantage)
	}
	return nil
}

// ParseInts parses a comma-separated list of integers, e.g. "7,14,21".
func ParseInts(s string) ([]int, error) {
	var out []int
	for _, p := range splitList(s) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

// ParseFloats parses a comma-separated list of numbers, e.g. "25,30,35.5".
func ParseFloats(s string) ([]float64, error) {
	var out []float64
	for _, p := range splitList(s) {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		out = append(out, f)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}
