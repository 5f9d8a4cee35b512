package provider

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// DefaultCallbackPath is where magic links and confirmation links land.
const DefaultCallbackPath = "/auth/callback"

// Config controls sign-up policy and link construction.
type Config struct {
	// SiteURL is the public origin used to build links in outgoing mail.
	SiteURL string

	// RequireEmailConfirmation makes sign-up send a confirmation link instead of signing in.
	RequireEmailConfirmation bool

	// CallbackPath is used when a caller passes no (or an unsafe) redirect target.
	CallbackPath string
}

// DefaultConfig returns a local development configuration with confirmation enabled.
func DefaultConfig() Config {
	return Config{
		SiteURL:                  "http://localhost:8080",
		RequireEmailConfirmation: true,
		CallbackPath:             DefaultCallbackPath,
	}
}

// LoadConfigFromEnv reads HEALTHYDB_PUBLIC_URL and HEALTHYDB_AUTH_REQUIRE_EMAIL_CONFIRMATION.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("HEALTHYDB_PUBLIC_URL")); v != "" {
		u, err := url.Parse(v)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Config{}, fmt.Errorf("provider: invalid HEALTHYDB_PUBLIC_URL %q", v)
		}
		cfg.SiteURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("HEALTHYDB_AUTH_REQUIRE_EMAIL_CONFIRMATION")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("provider: invalid HEALTHYDB_AUTH_REQUIRE_EMAIL_CONFIRMATION %q", v)
		}
		cfg.RequireEmailConfirmation = b
	}
	return cfg, nil
}

// linkURL builds SiteURL + redirectTo + ?token=. Only same-site absolute paths are honored.
func (c Config) linkURL(redirectTo, plainToken string) string {
	path := strings.TrimSpace(redirectTo)
	if !safeLocalPath(path) {
		path = c.CallbackPath
	}
	if path == "" {
		path = DefaultCallbackPath
	}
	q := url.Values{}
	q.Set("token", plainToken)
	return strings.TrimRight(c.SiteURL, "/") + path + "?" + q.Encode()
}

func safeLocalPath(p string) bool {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.ContainsAny(p, "\\?#") {
		return false
	}
	return true
}
