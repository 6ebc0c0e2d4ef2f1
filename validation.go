package gatekeeper

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
)

// DefaultMinPasswordLength applies when Config does not set one
const DefaultMinPasswordLength = 6

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,64}$`)

// ValidateEmail checks email format locally, before any identity call
func ValidateEmail(email string) error {
	if err := validation.Validate(email,
		validation.Required,
		validation.Match(emailPattern),
	); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// ValidateSignIn checks sign-in input. Password strength is not enforced
// here, an existing account may predate the current minimum.
func ValidateSignIn(email, password string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	if err := validation.Validate(password, validation.Required); err != nil {
		return ErrEmptyPassword
	}
	return nil
}

// ValidateSignUp checks sign-up input including the password length bounds.
// The upper bound counts bytes, not runes.
func ValidateSignUp(email, password string, minLength int) error {
	if err := ValidateSignIn(email, password); err != nil {
		return err
	}
	if len([]byte(password)) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	if minLength <= 0 {
		minLength = DefaultMinPasswordLength
	}
	if err := validation.Validate(password, validation.Length(minLength, 0)); err != nil {
		return ErrWeakPassword.Clone().WithMetadata(map[string]any{
			"min_length": minLength,
		})
	}
	return nil
}
