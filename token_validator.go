package gatekeeper

import "time"

// TokenVerifier verifies tokens without tying callers to a specific
// signing implementation.
type TokenVerifier interface {
	Verify(raw string, purpose TokenPurpose, now time.Time) (*TokenClaims, error)
}

// TokenVerifierFunc adapts a function into a TokenVerifier.
type TokenVerifierFunc func(raw string, purpose TokenPurpose, now time.Time) (*TokenClaims, error)

// Verify satisfies the TokenVerifier interface.
func (f TokenVerifierFunc) Verify(raw string, purpose TokenPurpose, now time.Time) (*TokenClaims, error) {
	if f == nil {
		return nil, tokenRejected(RejectMalformed, nil)
	}
	return f(raw, purpose, now)
}

// TokenIssuer mints token pairs for authenticated subjects
type TokenIssuer interface {
	Issue(subjectID, subjectName string, now time.Time) (TokenPair, error)
}

var (
	_ TokenVerifier = (*TokenService)(nil)
	_ TokenIssuer   = (*TokenService)(nil)
)
