package api

import (
	"os"
	"strconv"
	"strings"
	"time"

	"healthydb/cmd/internal/dbschema"
)

// Config controls auth form handling and throttling.
type Config struct {
	MaxBodyBytes int64

	// Per client IP sliding window over every auth POST and callback.
	IPMax    int
	IPWindow time.Duration

	// Schema holding audit_log.
	Schema string
}

// DefaultConfig returns the defaults used when no environment is set.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 64 << 10,
		IPMax:        20,
		IPWindow:     5 * time.Minute,
		Schema:       dbschema.DefaultSchema,
	}
}

// LoadConfigFromEnv loads auth handler config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		MaxBodyBytes: envInt64("HEALTHYDB_AUTH_MAX_BODY_BYTES", def.MaxBodyBytes),
		IPMax:        envInt("HEALTHYDB_AUTH_IP_MAX", def.IPMax),
		IPWindow:     envDuration("HEALTHYDB_AUTH_IP_WINDOW", def.IPWindow),
		Schema:       strings.TrimSpace(os.Getenv("HEALTHYDB_DB_SCHEMA")),
	}
	if cfg.Schema == "" {
		cfg.Schema = def.Schema
	}
	// Clamp to 1 MiB.
	if cfg.MaxBodyBytes > 1<<20 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return cfg
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
