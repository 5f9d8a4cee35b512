package app

import (
	"errors"

	"healthydb/cmd/security/token"
)

// ValidateSecurityConfig enforces the token hashing policy at startup.
// Under HEALTHYDB_REQUIRE_TOKEN_HMAC the process refuses to start with plain SHA-256 hashing.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// The key is used as raw bytes; 32 is the HMAC-SHA256 block minimum we accept.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: HEALTHYDB_REQUIRE_TOKEN_HMAC=true but HEALTHYDB_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: HEALTHYDB_REQUIRE_TOKEN_HMAC=true but HEALTHYDB_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: HEALTHYDB_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return nil
}
