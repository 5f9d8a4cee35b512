package identity

import (
	"context"
	"time"
)

// User is HealthyDB's canonical account principal.
type User struct {
	ID               string
	Email            string
	EmailNorm        string
	EmailConfirmedAt *time.Time
	CreatedAt        time.Time
}

// Confirmed reports whether the user's email address has been confirmed.
func (u User) Confirmed() bool { return u.EmailConfirmedAt != nil }

// UserAuth is a user together with its password credential.
// PasswordHash is empty for passwordless (magic-link only) accounts.
type UserAuth struct {
	User         User
	PasswordHash string
}

// CreateUserInput describes a new account.
// PasswordHash is a PHC string produced by the caller; empty creates a passwordless account.
// A non-nil ConfirmedAt creates the account already confirmed.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	ConfirmedAt  *time.Time
	Now          time.Time
}

// Store is the account persistence boundary.
type Store interface {
	// CreateUser creates a user (and its credential when PasswordHash is set).
	// Returns ConflictError{Field: "email"} when the normalized email already exists.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	// GetUserByID returns NotFoundError when the user does not exist.
	GetUserByID(ctx context.Context, id string) (User, error)

	// GetUserAuthByEmail looks the user up by normalized email.
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)

	// ConfirmEmail marks the email confirmed (first confirmation time wins) and returns the user.
	ConfirmEmail(ctx context.Context, userID string, now time.Time) (User, error)

	// SetPasswordHash replaces (or creates) the password credential.
	SetPasswordHash(ctx context.Context, userID string, hash string, now time.Time) error
}
