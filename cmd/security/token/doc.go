// Package token provides opaque token generation and hashing for HealthyDB.
//
// It is the single source of truth for how refresh tokens and magic-link tokens are
// turned into storage keys:
//   - SHA-256(token) when no HMAC key is configured (local development).
//   - HMAC-SHA256(token, key) when HEALTHYDB_TOKEN_HMAC_KEY is set.
//
// Output is always a 64-char hex string so stores can compare in constant time.
//
// Policy: when HEALTHYDB_REQUIRE_TOKEN_HMAC=true the app refuses to start unless the key is
// present and at least 32 bytes long (see app.ValidateSecurityConfig).
package token
