package magiclink

import (
	"context"
	"time"
)

// Purpose says what redeeming a link does.
type Purpose string

const (
	// PurposeSignIn signs an existing (or just created passwordless) user in.
	PurposeSignIn Purpose = "signin"
	// PurposeSignUp confirms the email of a password sign-up and signs the user in.
	PurposeSignUp Purpose = "signup"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeSignIn || p == PurposeSignUp
}

// Record is the server-side state of an issued link.
type Record struct {
	UserID     string    `json:"uid"`
	Email      string    `json:"email"`
	Purpose    Purpose   `json:"purpose"`
	RedirectTo string    `json:"redirect_to,omitempty"`
	IssuedAt   time.Time `json:"iat"`
	ExpiresAt  time.Time `json:"exp"`
}

// Store persists records keyed by token hash.
//
// Consume must be atomic: concurrent consumers of one hash see at most one success.
type Store interface {
	Save(ctx context.Context, tokenHash string, rec Record, ttl time.Duration) error
	Consume(ctx context.Context, tokenHash string) (Record, error)
}
