// Package config provides runtime configuration values for the service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds configuration knobs for the HTTP server and the engine.
type Config struct {
	Port            string
	AdminSecret     string
	CatalogPath     string
	DatabaseURL     string
	RedisURL        string
	CacheTTL        time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durenv(key string, defSec int) time.Duration {
	return time.Duration(atoienv(key, defSec)) * time.Second
}

// Load collects configuration from environment with defaults.
func Load() Config {
	return Config{
		Port:            getenv("PORT", "8080"),
		AdminSecret:     os.Getenv("ADMIN_SECRET"),
		CatalogPath:     os.Getenv("CATALOG_PATH"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		CacheTTL:        durenv("CACHE_TTL", 30),
		ShutdownTimeout: durenv("SHUTDOWN_TIMEOUT", 5),
		RequestTimeout:  durenv("REQUEST_TIMEOUT", 30),
	}
}
