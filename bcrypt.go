package gatekeeper

import (
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the bcrypt input limit
const MaxPasswordBytes = 72

// HashPasswordCost hashes password with an explicit bcrypt cost
func HashPasswordCost(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if goerrors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	}
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if goerrors.Is(err, bcrypt.ErrMismatchedHashAndPassword) || goerrors.Is(err, bcrypt.ErrPasswordTooLong) {
			return ErrInvalidCredentials
		}
		return err
	}
	return nil
}
