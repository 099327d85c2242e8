// Package config provides environment configuration for the sync engine and
// the dev server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// REST gateway
	APIBaseURL     string
	RequestTimeout time.Duration

	// Push channel
	ChannelTransport string // "ws" or "nats"
	ChannelURL       string
	NATSURL          string
	NATSToken        string
	AuthToken        string

	// Synchronizer
	TypingTTL    time.Duration
	HydrateLimit int

	// Dev server
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	JWTSecret          string
	RateLimitRequests  int
	RateLimitWindow    time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// REST gateway
		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost:8080/api/v1"),
		RequestTimeout: getDurationEnv("REQUEST_TIMEOUT", 15*time.Second),

		// Push channel
		ChannelTransport: getEnv("CHANNEL_TRANSPORT", "ws"),
		ChannelURL:       getEnv("CHANNEL_URL", "ws://localhost:8080/ws"),
		NATSURL:          getEnv("NATS_URL", "nats://localhost:4222"),
		NATSToken:        getEnv("NATS_TOKEN", ""),
		AuthToken:        getEnv("AUTH_TOKEN", ""),

		// Synchronizer
		TypingTTL:    getDurationEnv("TYPING_TTL", 1500*time.Millisecond),
		HydrateLimit: getIntEnv("HYDRATE_LIMIT", 100),

		// Dev server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		JWTSecret:          getEnv("JWT_SECRET", "development-secret-change-in-production"),
		RateLimitRequests:  getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
