// Package cookies reads and writes the HealthyDB browser cookies.
//
//	hdb_access   PASETO access token          HttpOnly
//	hdb_refresh  opaque refresh token         HttpOnly
//	hdb_csrf     double-submit CSRF token     readable by page script
//	hdb_device   device id (uuid, one year)   HttpOnly
//	hdb_flash    one-shot toast notification  HttpOnly
package cookies

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"healthydb/cmd/internal/auth/provider"

	"github.com/google/uuid"
)

const (
	AccessName  = "hdb_access"
	RefreshName = "hdb_refresh"
	CSRFName    = "hdb_csrf"
	DeviceName  = "hdb_device"
	FlashName   = "hdb_flash"

	// CSRFField is the form field carrying the double-submit token.
	CSRFField = "csrf_token"

	deviceTTL = 365 * 24 * time.Hour
	flashTTL  = time.Minute
)

// Config controls cookie attributes.
type Config struct {
	Path       string
	Domain     string
	Secure     bool
	SameSite   http.SameSite
	TrustProxy bool
}

// DefaultConfig returns attributes for local development (not Secure).
func DefaultConfig() Config {
	return Config{Path: "/", SameSite: http.SameSiteLaxMode}
}

// LoadConfigFromEnv reads HEALTHYDB_COOKIE_DOMAIN, HEALTHYDB_COOKIE_SECURE,
// HEALTHYDB_COOKIE_SAMESITE (lax, strict) and HEALTHYDB_TRUST_PROXY.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.Domain = strings.TrimSpace(os.Getenv("HEALTHYDB_COOKIE_DOMAIN"))
	if b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv("HEALTHYDB_COOKIE_SECURE"))); err == nil {
		cfg.Secure = b
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("HEALTHYDB_COOKIE_SAMESITE")), "strict") {
		cfg.SameSite = http.SameSiteStrictMode
	}
	if b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv("HEALTHYDB_TRUST_PROXY"))); err == nil {
		cfg.TrustProxy = b
	}
	return cfg
}

// Jar implements the cookie side of the auth flow.
type Jar struct {
	cfg Config
}

// NewJar builds a Jar.
func NewJar(cfg Config) *Jar {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}
	return &Jar{cfg: cfg}
}

// ---- session ----

// Credentials returns the session tokens presented by the browser.
func (j *Jar) Credentials(r *http.Request) provider.Credentials {
	return provider.Credentials{
		AccessToken:  value(r, AccessName),
		RefreshToken: value(r, RefreshName),
	}
}

// SetSession writes both session cookies. The access cookie lives as long as the refresh
// token so an expired access token still reaches the Edge gate for refresh.
// An empty refresh token leaves the refresh cookie alone.
func (j *Jar) SetSession(w http.ResponseWriter, s *provider.Session) {
	if s == nil {
		return
	}
	exp := s.RefreshExpiresAt
	if exp.IsZero() {
		exp = s.ExpiresAt
	}
	j.set(w, AccessName, s.AccessToken, exp, true)
	if s.RefreshToken != "" {
		j.set(w, RefreshName, s.RefreshToken, exp, true)
	}
}

// ClearSession expires both session cookies.
func (j *Jar) ClearSession(w http.ResponseWriter) {
	j.expire(w, AccessName, true)
	j.expire(w, RefreshName, true)
}

// ---- device ----

// Device returns the browser identity for the request.
func (j *Jar) Device(r *http.Request) provider.Device {
	return provider.Device{
		ID:        value(r, DeviceName),
		UserAgent: strings.TrimSpace(r.UserAgent()),
		IP:        ClientIP(r, j.cfg.TrustProxy),
	}
}

// DeviceMiddleware assigns a device id to browsers that have none. The new cookie is also
// attached to the inbound request so downstream handlers see it.
func (j *Jar) DeviceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := uuid.Parse(value(r, DeviceName)); err != nil {
			id := uuid.NewString()
			j.set(w, DeviceName, id, time.Now().Add(deviceTTL), true)
			existing := r.Cookies()
			r.Header.Del("Cookie")
			for _, c := range existing {
				if c.Name != DeviceName {
					r.AddCookie(c)
				}
			}
			r.AddCookie(&http.Cookie{Name: DeviceName, Value: id})
		}
		next.ServeHTTP(w, r)
	})
}

// ---- csrf ----

// EnsureCSRF returns the current CSRF token, issuing one when the browser has none.
func (j *Jar) EnsureCSRF(w http.ResponseWriter, r *http.Request) string {
	if v := value(r, CSRFName); v != "" {
		return v
	}
	tok, err := newOpaqueWebToken(32)
	if err != nil {
		return ""
	}
	j.set(w, CSRFName, tok, time.Time{}, false)
	return tok
}

// CSRFValid reports whether the form field matches the cookie. The form must be parsed.
func (j *Jar) CSRFValid(r *http.Request) bool {
	return secureStringEqual(value(r, CSRFName), strings.TrimSpace(r.PostFormValue(CSRFField)))
}

// ---- flash ----

// Flash is a toast carried across one redirect.
type Flash struct {
	Kind    string `json:"k"`
	Message string `json:"m"`
}

// SetFlash stores f for the next page render.
func (j *Jar) SetFlash(w http.ResponseWriter, f Flash) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	j.set(w, FlashName, base64.RawURLEncoding.EncodeToString(b), time.Now().Add(flashTTL), true)
}

// PopFlash returns and expires the pending toast.
func (j *Jar) PopFlash(w http.ResponseWriter, r *http.Request) (Flash, bool) {
	raw := value(r, FlashName)
	if raw == "" {
		return Flash{}, false
	}
	j.expire(w, FlashName, true)

	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return Flash{}, false
	}
	var f Flash
	if err := json.Unmarshal(b, &f); err != nil || f.Message == "" {
		return Flash{}, false
	}
	return f, true
}

// ---- helpers ----

func (j *Jar) set(w http.ResponseWriter, name, val string, exp time.Time, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    val,
		Path:     j.cfg.Path,
		Domain:   j.cfg.Domain,
		Expires:  exp,
		HttpOnly: httpOnly,
		Secure:   j.cfg.Secure,
		SameSite: j.cfg.SameSite,
	})
}

func (j *Jar) expire(w http.ResponseWriter, name string, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     j.cfg.Path,
		Domain:   j.cfg.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: httpOnly,
		Secure:   j.cfg.Secure,
		SameSite: j.cfg.SameSite,
	})
}

func value(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func newOpaqueWebToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func secureStringEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ClientIP returns the caller address, honoring X-Forwarded-For / X-Real-IP only when trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

// parseForwardedIP walks X-Forwarded-For from the right, skipping loopback and private hops
// (the proxies in front of the server). Entries left of the first public hop are supplied by
// the client and are ignored. When every hop is internal the leftmost one is the client.
func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	var internal net.IP
	for i := len(parts) - 1; i >= 0; i-- {
		ip := net.ParseIP(strings.TrimSpace(parts[i]))
		if ip == nil {
			continue
		}
		if !ip.IsLoopback() && !ip.IsPrivate() {
			return ip
		}
		internal = ip
	}
	return internal
}
