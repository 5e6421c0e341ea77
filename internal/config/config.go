// Package config loads the quota service's environment configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env.local then .env into the process environment,
// generalized from the retrieved pkg/config/env.go's LoadEnvFiles: later
// files never override variables a file loaded earlier already set, and
// a missing file is not an error.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// Config is the environment-derived setup for the quota service: host,
// port, and logical database index for the shared store are read from
// the environment rather than hardcoded.
type Config struct {
	Backend        string // "memory" or "redis"
	RedisAddr      string
	RedisDB        int
	BackendTimeout time.Duration
	HTTPAddr       string
	LogLevel       string
	LogFilePath    string
}

// Load reads Config from the process environment, applying the defaults
// the demo binary and tests both rely on.
func Load() (Config, error) {
	cfg := Config{
		Backend:        getEnv("QUOTA_BACKEND", "memory"),
		RedisAddr:      getEnv("QUOTA_REDIS_ADDR", "localhost:6379"),
		BackendTimeout: 5 * time.Second,
		HTTPAddr:       getEnv("QUOTA_HTTP_ADDR", ":8080"),
		LogLevel:       getEnv("QUOTA_LOG_LEVEL", "info"),
		LogFilePath:    getEnv("QUOTA_LOG_FILE", ""),
	}

	if v := os.Getenv("QUOTA_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid QUOTA_REDIS_DB %q: %w", v, err)
		}
		cfg.RedisDB = db
	}

	if v := os.Getenv("QUOTA_BACKEND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid QUOTA_BACKEND_TIMEOUT %q: %w", v, err)
		}
		cfg.BackendTimeout = d
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
