package magiclink

import "errors"

var (
	// ErrTokenNotFound is returned for unknown, already consumed or expired tokens.
	ErrTokenNotFound = errors.New("magic link token not found")

	// ErrPurposeMismatch is returned when a token is redeemed for a different purpose.
	ErrPurposeMismatch = errors.New("magic link purpose mismatch")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid magic link config")

	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("magic link store unavailable")
)
