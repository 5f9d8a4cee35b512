package session

import (
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func TestLoadConfigFromEnv_MissingSecretKey(t *testing.T) {
	t.Setenv("HEALTHYDB_PASETO_V4_SECRET_KEY_HEX", "")
	t.Setenv("HEALTHYDB_DEV_EPHEMERAL_KEYS", "")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig on missing secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_EphemeralKey(t *testing.T) {
	t.Setenv("HEALTHYDB_PASETO_V4_SECRET_KEY_HEX", "")
	t.Setenv("HEALTHYDB_DEV_EPHEMERAL_KEYS", "true")
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if !cfg.EphemeralKey || cfg.PasetoV4SecretKeyHex == "" {
		t.Fatalf("expected generated key, got %+v", cfg)
	}
	if _, err := NewPasetoV4PublicManager(cfg); err != nil {
		t.Fatalf("generated key must be usable: %v", err)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("HEALTHYDB_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
	t.Setenv("HEALTHYDB_AUTH_ISSUER", "healthydb-test")
	t.Setenv("HEALTHYDB_AUTH_ACCESS_TTL", "5m")
	t.Setenv("HEALTHYDB_AUTH_REFRESH_TTL", "48h")
	t.Setenv("HEALTHYDB_AUTH_CLOCK_SKEW", "0s")
	t.Setenv("HEALTHYDB_AUTH_REFRESH_TOKEN_BYTES", "48")
	t.Setenv("HEALTHYDB_AUTH_REFRESH_REUSE_INTERVAL", "3s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Issuer != "healthydb-test" {
		t.Fatalf("issuer: %q", cfg.Issuer)
	}
	if cfg.AccessTokenTTL != 5*time.Minute || cfg.RefreshTTL != 48*time.Hour || cfg.ClockSkew != 0 {
		t.Fatalf("durations: %+v", cfg)
	}
	if cfg.ReuseInterval != 3*time.Second {
		t.Fatalf("reuse interval: %v", cfg.ReuseInterval)
	}
	if cfg.RefreshTokenBytes != 48 {
		t.Fatalf("refresh bytes: %d", cfg.RefreshTokenBytes)
	}
	if cfg.EphemeralKey {
		t.Fatalf("configured key must not be flagged ephemeral")
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"negative access ttl", "HEALTHYDB_AUTH_ACCESS_TTL", "-5m"},
		{"zero refresh ttl", "HEALTHYDB_AUTH_REFRESH_TTL", "0s"},
		{"garbage skew", "HEALTHYDB_AUTH_CLOCK_SKEW", "soon"},
		{"negative reuse interval", "HEALTHYDB_AUTH_REFRESH_REUSE_INTERVAL", "-1s"},
		{"small refresh bytes", "HEALTHYDB_AUTH_REFRESH_TOKEN_BYTES", "16"},
		{"large refresh bytes", "HEALTHYDB_AUTH_REFRESH_TOKEN_BYTES", "65"},
		{"access outlives refresh", "HEALTHYDB_AUTH_ACCESS_TTL", "720h"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			secret := paseto.NewV4AsymmetricSecretKey()
			t.Setenv("HEALTHYDB_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
			t.Setenv(tc.key, tc.val)
			if _, err := LoadConfigFromEnv(); err != ErrConfig {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}
