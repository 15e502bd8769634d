package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	SigningKeyPath string
	RunnerTimeout  time.Duration
	ShadowMode     bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to local generic postgres
		dbURL = "postgres://helm@localhost:5433/helm?sslmode=disable"
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	runnerTimeout := 5 * time.Minute
	if v := os.Getenv("RUNNER_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			runnerTimeout = time.Duration(secs) * time.Second
		}
	}

	shadowMode := os.Getenv("SHADOW_MODE") == "true"

	return &Config{
		Port:           port,
		LogLevel:       logLevel,
		DatabaseURL:    dbURL,
		RedisURL:       redisURL,
		SigningKeyPath: os.Getenv("SIGNING_KEY_PATH"),
		RunnerTimeout:  runnerTimeout,
		ShadowMode:     shadowMode,
	}
}
