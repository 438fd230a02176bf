package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr       string
	CORSOrigin string
	// Redis - empty disables the Redis broadcaster (in-process fan-out only)
	RedisURL string
	// Postgres - empty disables the operation audit log
	DatabaseURL   string
	MigrationsDir string
	// Presence tuning
	TypingDebounce     time.Duration
	PresenceStaleAfter time.Duration
	SweepInterval      time.Duration
}

func Load() Config {
	return Config{
		Addr:               getenv("ENGINE_ADDR", ":8790"),
		CORSOrigin:         getenv("COWRITE_CORS_ORIGIN", "*"),
		RedisURL:           getenv("REDIS_URL", ""),
		DatabaseURL:        getenv("AUDIT_DATABASE_URL", ""),
		MigrationsDir:      getenv("COWRITE_MIGRATIONS_DIR", "./db/migrations"),
		TypingDebounce:     time.Duration(getenvInt("COWRITE_TYPING_DEBOUNCE_SECONDS", 5)) * time.Second,
		PresenceStaleAfter: time.Duration(getenvInt("COWRITE_PRESENCE_STALE_SECONDS", 600)) * time.Second,
		SweepInterval:      time.Duration(getenvInt("COWRITE_SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
