package config

import (
	"os"
	"strings"
	"time"
)

// OutboxDispatcherEnabled controls whether the API process runs the outbox dispatcher.
// Defaults to on; set OUTBOX_DISPATCHER_ENABLED=false when a dedicated worker publishes.
func OutboxDispatcherEnabled() bool {
	if strings.TrimSpace(os.Getenv("OUTBOX_DISPATCHER_ENABLED")) == "" {
		return true
	}
	return boolFromEnv("OUTBOX_DISPATCHER_ENABLED")
}

// SkipMigrations disables AutoMigrate at startup (SKIP_MIGRATIONS=true).
func SkipMigrations() bool {
	return boolFromEnv("SKIP_MIGRATIONS")
}

// RateLimitEnabled turns on the per-location sale rate limiter.
//
// Set via env:
// - RATE_LIMIT_ENABLED=true
// - RATE_LIMIT_WINDOW_SECONDS=60
// - RATE_LIMIT_MAX_REQUESTS=600
func RateLimitEnabled() bool {
	return boolFromEnv("RATE_LIMIT_ENABLED")
}

func RateLimitSettings() (limit int64, window time.Duration) {
	return int64(intFromEnv("RATE_LIMIT_MAX_REQUESTS", 600)),
		time.Duration(intFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
}

// BusinessCacheTTL is how long business settings (VAT rate) stay cached in redis.
func BusinessCacheTTL() time.Duration {
	return time.Duration(intFromEnv("BUSINESS_CACHE_TTL_SECONDS", 300)) * time.Second
}
