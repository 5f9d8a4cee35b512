package token

import "errors"

// HEALTHYDB_TOKEN_HMAC_KEY failures reported by HMACKeyFromEnv.
var (
	ErrHMACKeyMissing  = errors.New("token: HEALTHYDB_TOKEN_HMAC_KEY is not set")
	ErrHMACKeyTooShort = errors.New("token: HEALTHYDB_TOKEN_HMAC_KEY is shorter than required")
)
