package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                int
	NatsURL             string
	NatsToken           string
	DatabaseURL         string
	LogLevel            string
	UnderstandingURL    string
	UnderstandingAPIKey string
	UnderstandingModel  string
	APIToken            string

	// Batch driver tuning: size of each concurrent batch and the pause
	// between batches. A zero delay disables the pause for tests.
	BatchSize  int
	BatchDelay time.Duration

	// Pipeline thresholds.
	DedupThreshold  float64
	ThemeMinSupport int

	// Weight given to A/B test outcomes when blending them back into the
	// deterministic model ranking after a test completes.
	ABTestCarryover float64
}

func Load() Config {
	return Config{
		Port:                envInt("COMPASS_PORT", 8810),
		NatsURL:             envStr("NATS_URL", "nats://localhost:4222"),
		NatsToken:           envStr("NATS_TOKEN", ""),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		LogLevel:            envStr("LOG_LEVEL", "info"),
		UnderstandingURL:    envStr("UNDERSTANDING_URL", "http://understanding:8700"),
		UnderstandingAPIKey: envStr("UNDERSTANDING_API_KEY", ""),
		UnderstandingModel:  envStr("UNDERSTANDING_MODEL", "standard-v2"),
		APIToken:            envStr("COMPASS_API_TOKEN", ""),
		BatchSize:           envInt("BATCH_SIZE", 4),
		BatchDelay:          envDuration("BATCH_DELAY", 1500*time.Millisecond),
		DedupThreshold:      envFloat("DEDUP_THRESHOLD", 0.85),
		ThemeMinSupport:     envInt("THEME_MIN_SUPPORT", 3),
		ABTestCarryover:     envFloat("ABTEST_CARRYOVER_WEIGHT", 0.5),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
