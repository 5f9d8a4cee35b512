package session

import (
	"os"
	"strconv"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Config defines all runtime configuration for the session subsystem.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of PASETO access tokens (the hdb_access cookie).
	AccessTokenTTL time.Duration

	// RefreshTTL defines the lifetime of a session row and its refresh token.
	RefreshTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// RefreshTokenBytes defines the entropy of opaque refresh tokens.
	RefreshTokenBytes int

	// ReuseInterval is how long a rotated refresh token keeps resolving to its replacement.
	// Concurrent page loads share one refresh cookie; only a replay after this window
	// counts as reuse. Zero disables the window.
	ReuseInterval time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key
	// used to sign PASETO v4.public access tokens.
	PasetoV4SecretKeyHex string

	// EphemeralKey is set when the signing key was generated at startup
	// (HEALTHYDB_DEV_EPHEMERAL_KEYS=true). Sessions do not survive a restart.
	EphemeralKey bool
}

// DefaultConfig returns the development defaults. The signing key is left empty.
func DefaultConfig() Config {
	return Config{
		Issuer:            "healthydb",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTTL:        7 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		RefreshTokenBytes: 32,
		ReuseInterval:     10 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required (unless HEALTHYDB_DEV_EPHEMERAL_KEYS=true):
//   - HEALTHYDB_PASETO_V4_SECRET_KEY_HEX
//
// Optional (durations must be valid Go duration strings):
//   - HEALTHYDB_AUTH_ISSUER
//   - HEALTHYDB_AUTH_ACCESS_TTL
//   - HEALTHYDB_AUTH_REFRESH_TTL
//   - HEALTHYDB_AUTH_CLOCK_SKEW
//   - HEALTHYDB_AUTH_REFRESH_TOKEN_BYTES
//   - HEALTHYDB_AUTH_REFRESH_REUSE_INTERVAL
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("HEALTHYDB_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	durations := []struct {
		key       string
		dst       *time.Duration
		allowZero bool
	}{
		{key: "HEALTHYDB_AUTH_ACCESS_TTL", dst: &cfg.AccessTokenTTL},
		{key: "HEALTHYDB_AUTH_REFRESH_TTL", dst: &cfg.RefreshTTL},
		{key: "HEALTHYDB_AUTH_CLOCK_SKEW", dst: &cfg.ClockSkew, allowZero: true},
		{key: "HEALTHYDB_AUTH_REFRESH_REUSE_INTERVAL", dst: &cfg.ReuseInterval, allowZero: true},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || (parsed == 0 && !d.allowZero) {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if v := strings.TrimSpace(os.Getenv("HEALTHYDB_AUTH_REFRESH_TOKEN_BYTES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	// The access token must not outlive the session it points at.
	if cfg.AccessTokenTTL > cfg.RefreshTTL {
		return Config{}, ErrConfig
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("HEALTHYDB_PASETO_V4_SECRET_KEY_HEX"))
	if cfg.PasetoV4SecretKeyHex == "" {
		ephemeral, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv("HEALTHYDB_DEV_EPHEMERAL_KEYS")))
		if !ephemeral {
			return Config{}, ErrConfig
		}
		cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
		cfg.EphemeralKey = true
	}

	return cfg, nil
}
