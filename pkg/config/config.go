// Package config holds server configuration: environment variables with
// defaults, optionally overlaid by a named YAML profile.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port          string
	LogLevel      string
	MaxRuns       int64
	MaxReruns     int
	RunTimeout    time.Duration
	SessionTTL    time.Duration
	EventQueueLen int
	RateRPS       float64
	RateBurst     int

	// JWTSecret enables websocket handshake auth when non-empty.
	JWTSecret string

	// StateBackend selects the durable state backend: memory, sqlite or redis.
	StateBackend string
	SQLitePath   string
	RedisAddr    string
	RedisDB      int

	OTLPEndpoint     string
	TelemetryEnabled bool
	Environment      string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:             envOr("PORT", "8501"),
		LogLevel:         envOr("LOG_LEVEL", "INFO"),
		MaxRuns:          int64(envInt("MAX_CONCURRENT_RUNS", 16)),
		MaxReruns:        envInt("MAX_RERUNS", 5),
		RunTimeout:       envDuration("RUN_TIMEOUT", 30*time.Second),
		SessionTTL:       envDuration("SESSION_IDLE_TTL", 30*time.Minute),
		EventQueueLen:    envInt("EVENT_QUEUE_LEN", 32),
		RateRPS:          envFloat("RATE_LIMIT_RPS", 50),
		RateBurst:        envInt("RATE_LIMIT_BURST", 100),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		StateBackend:     envOr("STATE_BACKEND", "memory"),
		SQLitePath:       envOr("SQLITE_PATH", "reflow_state.db"),
		RedisAddr:        envOr("REDIS_ADDR", "localhost:6379"),
		RedisDB:          envInt("REDIS_DB", 0),
		OTLPEndpoint:     envOr("OTLP_ENDPOINT", "localhost:4317"),
		TelemetryEnabled: os.Getenv("TELEMETRY_ENABLED") == "true",
		Environment:      envOr("ENVIRONMENT", "development"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
