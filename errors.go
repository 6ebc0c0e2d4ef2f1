package gatekeeper

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidEmail       = "INVALID_EMAIL"
	TextCodeEmptyPassword      = "EMPTY_PASSWORD"
	TextCodeWeakPassword       = "WEAK_PASSWORD"
	TextCodePasswordTooLong    = "PASSWORD_TOO_LONG"
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeTooManyAttempts    = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodePrincipalDisabled  = "PRINCIPAL_DISABLED"
	TextCodePrincipalNotFound  = "PRINCIPAL_NOT_FOUND"
	TextCodeEmailTaken         = "EMAIL_TAKEN"
	TextCodeTokenRejected      = "TOKEN_REJECTED"
	TextCodeAccessDenied       = "ACCESS_DENIED"
	TextCodeCredentialStore    = "CREDENTIAL_STORE_FAILURE"
	TextCodeMissingSigningKey  = "MISSING_SIGNING_KEY"
)

// RejectReason is the internal cause behind ErrTokenRejected. It is kept
// in the error metadata for logs and must not drive caller decisions.
type RejectReason string

const (
	RejectMalformed    RejectReason = "malformed"
	RejectSignature    RejectReason = "signature"
	RejectExpired      RejectReason = "expired"
	RejectWrongPurpose RejectReason = "wrong_purpose"

	// RejectUnknownSubject is used on refresh when the principal is gone
	RejectUnknownSubject RejectReason = "unknown_subject"
	// RejectDisabled is used on refresh when the principal is disabled
	RejectDisabled RejectReason = "disabled"
)

const rejectReasonKey = "reason"

var (
	ErrInvalidEmail = goerrors.New("email address is empty or malformed", goerrors.CategoryValidation).
		WithTextCode(TextCodeInvalidEmail).
		WithCode(goerrors.CodeBadRequest)

	ErrEmptyPassword = goerrors.New("password must not be empty", goerrors.CategoryValidation).
		WithTextCode(TextCodeEmptyPassword).
		WithCode(goerrors.CodeBadRequest)

	ErrWeakPassword = goerrors.New("password does not meet the minimum length", goerrors.CategoryValidation).
		WithTextCode(TextCodeWeakPassword).
		WithCode(goerrors.CodeBadRequest)

	ErrPasswordTooLong = goerrors.New("password exceeds the maximum length", goerrors.CategoryValidation).
		WithTextCode(TextCodePasswordTooLong).
		WithCode(goerrors.CodeBadRequest)

	// ErrInvalidCredentials covers unknown principals and wrong passwords alike
	ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
		WithTextCode(TextCodeInvalidCredentials).
		WithCode(goerrors.CodeUnauthorized)

	ErrTooManyLoginAttempts = goerrors.New("too many login attempts, try again later", goerrors.CategoryRateLimit).
		WithTextCode(TextCodeTooManyAttempts).
		WithCode(429)

	ErrPrincipalDisabled = goerrors.New("account is disabled", goerrors.CategoryAuth).
		WithTextCode(TextCodePrincipalDisabled).
		WithCode(goerrors.CodeUnauthorized)

	ErrPrincipalNotFound = goerrors.New("principal not found", goerrors.CategoryNotFound).
		WithTextCode(TextCodePrincipalNotFound).
		WithCode(goerrors.CodeNotFound)

	ErrEmailTaken = goerrors.New("email is already registered", goerrors.CategoryConflict).
		WithTextCode(TextCodeEmailTaken).
		WithCode(goerrors.CodeConflict)

	ErrTokenRejected = goerrors.New("token rejected", goerrors.CategoryAuth).
		WithTextCode(TextCodeTokenRejected).
		WithCode(goerrors.CodeUnauthorized)

	// ErrAccessDenied is the single outcome of a failed privilege check
	ErrAccessDenied = goerrors.New("unauthorized", goerrors.CategoryAuthz).
		WithTextCode(TextCodeAccessDenied).
		WithCode(goerrors.CodeUnauthorized)

	ErrCredentialStore = goerrors.New("credential store failure", goerrors.CategoryInternal).
		WithTextCode(TextCodeCredentialStore).
		WithCode(goerrors.CodeInternal)

	ErrMissingSigningKey = goerrors.New("signing key is not configured", goerrors.CategoryInternal).
		WithTextCode(TextCodeMissingSigningKey).
		WithCode(goerrors.CodeInternal)
)

func tokenRejected(reason RejectReason, source error) *goerrors.Error {
	clone := ErrTokenRejected.Clone()
	if source != nil {
		clone.Source = source
	}
	return clone.WithMetadata(map[string]any{
		rejectReasonKey: reason,
	})
}

func credentialStoreFailure(op, key string, source error) *goerrors.Error {
	clone := ErrCredentialStore.Clone()
	clone.Source = source
	return clone.WithMetadata(map[string]any{
		"operation": op,
		"key":       key,
	})
}

// HasTextCode reports whether err is a rich error carrying code
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// IsTokenRejected reports whether err came from token verification
func IsTokenRejected(err error) bool {
	return HasTextCode(err, TextCodeTokenRejected)
}

// IsAccessDenied reports whether err is a privilege gate denial
func IsAccessDenied(err error) bool {
	return HasTextCode(err, TextCodeAccessDenied)
}

// IsCredentialStoreError reports whether err is a credential store failure
func IsCredentialStoreError(err error) bool {
	return HasTextCode(err, TextCodeCredentialStore)
}

// IsValidationError reports whether err was produced by local input checks
func IsValidationError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryValidation
}

// RejectionReason returns the internal reason attached to a token
// rejection. Use it for logging only.
func RejectionReason(err error) (RejectReason, bool) {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != TextCodeTokenRejected {
		return "", false
	}
	reason, ok := richErr.Metadata[rejectReasonKey].(RejectReason)
	return reason, ok
}
