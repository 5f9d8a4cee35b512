package magiclink

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls link lifetime and token entropy.
type Config struct {
	TTL        time.Duration
	TokenBytes int
}

// DefaultConfig returns a one hour TTL and 32 byte tokens.
func DefaultConfig() Config {
	return Config{TTL: time.Hour, TokenBytes: 32}
}

// LoadConfigFromEnv reads HEALTHYDB_MAGICLINK_TTL (1m..24h) and
// HEALTHYDB_MAGICLINK_TOKEN_BYTES (32..64).
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("HEALTHYDB_MAGICLINK_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < time.Minute || d > 24*time.Hour {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}
	if v := strings.TrimSpace(os.Getenv("HEALTHYDB_MAGICLINK_TOKEN_BYTES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.TokenBytes = n
	}
	return cfg, nil
}
