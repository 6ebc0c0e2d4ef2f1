// Package keychain is the device local credential cache. Each logical key
// holds at most one opaque secret.
package keychain

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

// Key is a logical entry name in the credential store
type Key = string

const (
	KeyUserEmail     Key = "user_email"
	KeyCurrentUserID Key = "current_user_id"
	KeyUserToken     Key = "user_token"
)

// SessionKeys lists every key written on sign-in and removed on sign-out
var SessionKeys = []Key{KeyUserEmail, KeyCurrentUserID, KeyUserToken}

// ErrStorage wraps failures of the underlying secret storage
var ErrStorage = goerrors.New("secure storage failure", goerrors.CategoryInternal).
	WithTextCode("KEYCHAIN_STORAGE").
	WithCode(goerrors.CodeInternal)

// Store persists one secret per key. Save replaces atomically, Delete is
// idempotent and Load reports absence through its boolean result.
type Store interface {
	Save(ctx context.Context, key Key, secret string) error
	Load(ctx context.Context, key Key) (string, bool, error)
	Delete(ctx context.Context, key Key) error
}

func storageError(err error, op string, key Key) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, ErrStorage.Message).
		WithTextCode(ErrStorage.TextCode).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{
			"operation": op,
			"key":       key,
		})
}
