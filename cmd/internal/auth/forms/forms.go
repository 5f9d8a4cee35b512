// Package forms builds validated value objects from the auth form submissions.
//
// Validation happens before any Session Store call; a failed Result carries one message per
// field for inline display.
package forms

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const (
	// MinPasswordLength is enforced by both the sign-in and sign-up forms.
	MinPasswordLength = 6

	MsgInvalidEmail     = "Please enter a valid email address"
	MsgPasswordTooShort = "Password must be at least 6 characters"

	maxEmailLength    = 254
	maxPasswordLength = 256
)

// Result is either a validated Value or a set of field errors.
type Result[T any] struct {
	Value       T
	FieldErrors map[string]string
}

// OK reports whether validation passed.
func (r Result[T]) OK() bool { return len(r.FieldErrors) == 0 }

// Credentials is a validated email and password pair.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// MagicLinkRequest is a validated magic-link request.
type MagicLinkRequest struct {
	Email string `json:"email"`
}

func emailRules(email *string) *validation.FieldRules {
	return validation.Field(email,
		validation.Required.Error(MsgInvalidEmail),
		validation.Length(3, maxEmailLength).Error(MsgInvalidEmail),
		is.Email.Error(MsgInvalidEmail),
	)
}

// NewCredentials validates a sign-in or sign-up submission.
// The email is trimmed; the password is taken verbatim.
func NewCredentials(email, password string) Result[Credentials] {
	c := Credentials{Email: strings.TrimSpace(email), Password: password}
	err := validation.ValidateStruct(&c,
		emailRules(&c.Email),
		validation.Field(&c.Password,
			validation.Required.Error(MsgPasswordTooShort),
			validation.Length(MinPasswordLength, maxPasswordLength).Error(MsgPasswordTooShort),
		),
	)
	return result(c, err)
}

// NewMagicLinkRequest validates a magic-link submission.
func NewMagicLinkRequest(email string) Result[MagicLinkRequest] {
	m := MagicLinkRequest{Email: strings.TrimSpace(email)}
	err := validation.ValidateStruct(&m, emailRules(&m.Email))
	return result(m, err)
}

func result[T any](v T, err error) Result[T] {
	if err == nil {
		return Result[T]{Value: v}
	}
	fields := map[string]string{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			fields[field] = ferr.Error()
		}
	} else {
		fields["form"] = err.Error()
	}
	return Result[T]{Value: v, FieldErrors: fields}
}
