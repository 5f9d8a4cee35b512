// Package session issues and tracks HealthyDB browser sessions.
//
// A session is a row keyed by ULID holding the hash of an opaque refresh token. The browser
// carries two cookies: a short-lived PASETO v4.public access token (claims "uid" and "sid")
// and the refresh token.
//
// Refresh rotation replaces the row on every use. Presenting an already rotated refresh token
// again is treated as theft: every session of the user is revoked and
// ErrRefreshReuseDetected is returned.
//
// Access-token validation is server-authoritative: the backing row must still be active, so
// sign-out takes effect immediately.
package session
