package provider

import "errors"

var (
	// ErrNoSession means the credentials do not resolve to an active session.
	ErrNoSession = errors.New("no session")

	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailNotConfirmed is returned by password sign-in before the sign-up link was used.
	ErrEmailNotConfirmed = errors.New("email not confirmed")

	// ErrUserExists is returned by sign-up for an email that already has an account.
	ErrUserExists = errors.New("user already exists")

	// ErrWeakPassword wraps password policy failures at sign-up.
	ErrWeakPassword = errors.New("password rejected by policy")

	// ErrInvalidLink is returned for unknown, consumed or expired magic links.
	ErrInvalidLink = errors.New("invalid or expired link")

	// ErrInvalidEmail is returned when the email is empty.
	ErrInvalidEmail = errors.New("invalid email")
)
