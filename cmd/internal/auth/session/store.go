package session

import (
	"context"
	"net"
	"time"
)

// DeviceContext describes the browser that owns a session.
type DeviceContext struct {
	UserAgent string
	IP        net.IP
}

// Row mirrors a healthydb.sessions row.
type Row struct {
	ID                  string
	UserID              string
	RefreshTokenHash    string
	CreatedAt           time.Time
	LastUsedAt          *time.Time
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	ReplacedBySessionID *string
	RevocationReason    *string
}

// Active reports whether the row can still back an access token at now.
func (r Row) Active(now time.Time) bool {
	return r.RevokedAt == nil && r.ReplacedBySessionID == nil && r.ExpiresAt.After(now)
}

// Replacement describes the session created by a refresh rotation.
type Replacement struct {
	RefreshHash string
	ExpiresAt   time.Time
	Device      DeviceContext

	// ReuseInterval is the window after a rotation in which the old token
	// resolves to the existing replacement instead of tripping reuse detection.
	ReuseInterval time.Duration
}

// Rotated is the outcome of a successful rotation.
//
// Reused is set when the token was already rotated within the reuse interval:
// NewID is then the existing replacement and no new refresh token was stored.
type Rotated struct {
	OldID     string
	NewID     string
	UserID    string
	ExpiresAt time.Time
	Reused    bool
}

// Store abstracts persistence for session state.
//
// Rotate must be atomic: two concurrent rotations of the same refresh hash
// yield exactly one success.
type Store interface {
	// Create creates a new session row.
	Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (sessionID string, err error)

	// GetByID loads a session row by ID.
	GetByID(ctx context.Context, sessionID string) (Row, error)

	// Rotate replaces the session identified by refreshHash with a new one.
	// Policy is decided by checkRotatable.
	Rotate(ctx context.Context, now time.Time, refreshHash string, next Replacement) (Rotated, error)

	// Touch updates last_used_at for a session.
	Touch(ctx context.Context, now time.Time, sessionID string) error

	// Revoke revokes a single session (idempotent).
	Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error

	// RevokeAll revokes all sessions for a user (idempotent).
	RevokeAll(ctx context.Context, now time.Time, userID string, reason string) error
}

// rotation verdicts shared by every Store implementation.
type rotateVerdict int

const (
	rotateOK rotateVerdict = iota
	rotateExpired
	rotateReuse
	rotateRevoked
	rotateReplaced
)

// checkRotatable classifies row for rotation. rotateReplaced means the row was rotated less
// than interval ago; the caller hands out its replacement if that one is still active.
func checkRotatable(row Row, now time.Time, interval time.Duration) rotateVerdict {
	switch {
	case !row.ExpiresAt.After(now):
		return rotateExpired
	case row.RevokedAt != nil && row.ReplacedBySessionID != nil:
		if interval > 0 && now.Sub(*row.RevokedAt) < interval {
			return rotateReplaced
		}
		return rotateReuse
	case row.RevokedAt != nil:
		return rotateRevoked
	default:
		return rotateOK
	}
}

const (
	reasonRotation = "rotation"
	reasonReuse    = "refresh_reuse"
	reasonSignOut  = "signout"
)
