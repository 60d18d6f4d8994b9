package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	LogLevel string

	// Storage. An empty DBPath keeps everything in memory.
	DBPath string

	// Statement generation
	MonthsAhead        int
	GenerationInterval time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	LockWait       time.Duration

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string
	MetricsAddr  string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DBPath: getEnv("DB_PATH", ""),

		MonthsAhead:        getEnvInt("MONTHS_AHEAD", 5),
		GenerationInterval: getEnvDuration("GENERATION_INTERVAL", 6*time.Hour),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		LockWait:       getEnvDuration("LOCK_WAIT", 10*time.Second),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		MetricsAddr:  getEnv("METRICS_ADDR", ":9091"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
