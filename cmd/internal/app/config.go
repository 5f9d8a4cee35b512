package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"healthydb/cmd/internal/dbschema"

	"gopkg.in/yaml.v3"
)

// Config contains the runtime configuration. Values come from an optional YAML file
// (HEALTHYDB_CONFIG_FILE) and are then overridden by environment variables.
type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`

	DatabaseURL   string `yaml:"database_url"`
	DBMaxConns    int32  `yaml:"db_max_conns"`
	DBMinConns    int32  `yaml:"db_min_conns"`
	DBSchema      string `yaml:"db_schema"`
	DBAutoMigrate bool   `yaml:"db_auto_migrate"`

	// RedisURL enables the Redis magic-link store and the cross-instance event relay.
	RedisURL string `yaml:"redis_url"`

	// Mailer selects how magic links leave the process: "log" or "noop".
	Mailer string `yaml:"mailer"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	// If true, /readyz returns 503 unless the database is configured and reachable.
	ReadinessRequireDB bool `yaml:"readiness_require_db"`

	// If true, HEALTHYDB_TOKEN_HMAC_KEY must be set (>= 32 bytes).
	RequireTokenHMAC bool `yaml:"require_token_hmac"`
}

// DefaultConfig returns the local development defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxHeaderBytes:    1 << 20,

		DBMaxConns: 10,
		DBSchema:   dbschema.DefaultSchema,

		Mailer:         "log",
		MetricsEnabled: true,
	}
}

// LoadConfig reads the optional config file, then applies environment overrides.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := EnvString("HEALTHYDB_CONFIG_FILE", ""); path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg = Config{
		HTTPAddr:  EnvString("HEALTHYDB_HTTP_ADDR", cfg.HTTPAddr),
		LogLevel:  EnvString("HEALTHYDB_LOG_LEVEL", cfg.LogLevel),
		LogFormat: EnvString("HEALTHYDB_LOG_FORMAT", cfg.LogFormat),

		ReadHeaderTimeout: EnvDuration("HEALTHYDB_HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout),
		ReadTimeout:       EnvDuration("HEALTHYDB_HTTP_READ_TIMEOUT", cfg.ReadTimeout),
		WriteTimeout:      EnvDuration("HEALTHYDB_HTTP_WRITE_TIMEOUT", cfg.WriteTimeout),
		IdleTimeout:       EnvDuration("HEALTHYDB_HTTP_IDLE_TIMEOUT", cfg.IdleTimeout),
		ShutdownTimeout:   EnvDuration("HEALTHYDB_HTTP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout),
		MaxHeaderBytes:    EnvInt("HEALTHYDB_HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes),

		DatabaseURL:   EnvString("HEALTHYDB_DATABASE_URL", cfg.DatabaseURL),
		DBMaxConns:    EnvInt32("HEALTHYDB_DB_MAX_CONNS", cfg.DBMaxConns),
		DBMinConns:    EnvInt32("HEALTHYDB_DB_MIN_CONNS", cfg.DBMinConns),
		DBSchema:      EnvString("HEALTHYDB_DB_SCHEMA", cfg.DBSchema),
		DBAutoMigrate: EnvBool("HEALTHYDB_DB_AUTO_MIGRATE", cfg.DBAutoMigrate),

		RedisURL: EnvString("HEALTHYDB_REDIS_URL", cfg.RedisURL),
		Mailer:   strings.ToLower(EnvString("HEALTHYDB_MAILER", cfg.Mailer)),

		MetricsEnabled:     EnvBool("HEALTHYDB_METRICS_ENABLED", cfg.MetricsEnabled),
		ReadinessRequireDB: EnvBool("HEALTHYDB_READINESS_REQUIRE_DB", cfg.ReadinessRequireDB),
		RequireTokenHMAC:   EnvBool("HEALTHYDB_REQUIRE_TOKEN_HMAC", cfg.RequireTokenHMAC),
	}

	switch cfg.Mailer {
	case "log", "noop":
	default:
		return Config{}, fmt.Errorf("config: unknown mailer %q (want log or noop)", cfg.Mailer)
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
