package password

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Policy failures returned by Config.Validate, and the decode failure returned by Verify.
var (
	ErrPasswordTooShort = errors.New("password: shorter than policy minimum")
	ErrPasswordTooLong  = errors.New("password: longer than policy maximum")
	ErrWeakPassword     = errors.New("password: trivially guessable")
	ErrInvalidHash      = errors.New("password: invalid argon2id hash")
)

// trivialPasswords is matched case-insensitively when RejectVeryWeak is on.
var trivialPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"healthydb":   {},
	"qwerty":      {},
	"qwerty123":   {},
	"letmein":     {},
	"abc123":      {},
}

// Validate applies the sign-up policy. Length is counted in runes.
func (c Config) Validate(password string) error {
	switch n := utf8.RuneCountInString(password); {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	}
	if c.Policy.RejectVeryWeak && trivial(password) {
		return ErrWeakPassword
	}
	return nil
}

// trivial flags blank input, a single repeated character, digit-only PINs under 12 runes and
// a short deny list. It is not a strength estimator.
func trivial(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}
	if _, ok := trivialPasswords[strings.ToLower(s)]; ok {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	repeated, digits := true, true
	for _, r := range s {
		repeated = repeated && r == first
		digits = digits && unicode.IsDigit(r)
	}
	return repeated || (digits && utf8.RuneCountInString(s) < 12)
}
