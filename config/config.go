// Package config loads service configuration from environment variables
// and the feed definition file (YAML).
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"snapsig/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	JSONLPath     string
	MetricsAddr   string

	// Redis sink circuit breaker
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	// Stream consumption
	ConsumerGroup string
	ConsumerName  string

	// Feed definitions
	FeedsFile string

	// Tracker checkpointing
	CheckpointInterval time.Duration
	CheckpointKey      string

	// Alerting
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
	OutageThreshold  int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/records.db"),
		JSONLPath:     getEnv("JSONL_PATH", "data/records.jsonl"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		BreakerMaxFailures:  getEnvInt("BREAKER_MAX_FAILURES", 5),
		BreakerResetTimeout: getEnvDuration("BREAKER_RESET_TIMEOUT", 10*time.Second),

		ConsumerGroup: getEnv("CONSUMER_GROUP", "snapsig"),
		ConsumerName:  getEnv("CONSUMER_NAME", hostnameOr("snapsig-1")),

		FeedsFile: getEnv("FEEDS_FILE", "feeds.yaml"),

		CheckpointInterval: getEnvDuration("CHECKPOINT_INTERVAL", 30*time.Second),
		CheckpointKey:      getEnv("CHECKPOINT_KEY", "snapsig:checkpoint"),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		OutageThreshold:  getEnvInt("OUTAGE_THRESHOLD", 5),
	}
}

// feedsFile mirrors the YAML layout of the feed definition file.
type feedsFile struct {
	Feeds []model.Feed `yaml:"feeds"`
}

// LoadFeeds reads and validates the feed definitions from path.
func LoadFeeds(path string) ([]model.Feed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read feeds file: %w", err)
	}

	var ff feedsFile
	if err := yaml.Unmarshal(raw, &ff); err != nil {
		return nil, fmt.Errorf("config: parse feeds file: %w", err)
	}
	if len(ff.Feeds) == 0 {
		return nil, fmt.Errorf("config: no feeds defined in %s", path)
	}

	seen := make(map[string]bool, len(ff.Feeds))
	for i, f := range ff.Feeds {
		if f.Symbol == "" {
			return nil, fmt.Errorf("config: feed %d: symbol is required", i)
		}
		if f.Chart <= 0 {
			return nil, fmt.Errorf("config: feed %s: chart must be positive", f.Symbol)
		}
		if f.TickSize < 0 {
			return nil, fmt.Errorf("config: feed %s: tick_size must be non-negative", f.Key())
		}
		if f.RescaleThreshold < 0 || f.RescaleDivisor < 0 {
			return nil, fmt.Errorf("config: feed %s: rescale settings must be non-negative", f.Key())
		}
		if seen[f.Key()] {
			return nil, fmt.Errorf("config: duplicate feed %s", f.Key())
		}
		seen[f.Key()] = true
	}

	return ff.Feeds, nil
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func hostnameOr(fallback string) string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return fallback
	}
	return h
}
