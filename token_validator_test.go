package gatekeeper_test

import (
	"testing"
	"time"

	"github.com/goliatone/go-gatekeeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenVerifierFunc(t *testing.T) {
	var called bool
	verifier := gatekeeper.TokenVerifierFunc(func(raw string, purpose gatekeeper.TokenPurpose, now time.Time) (*gatekeeper.TokenClaims, error) {
		called = true
		assert.Equal(t, "raw", raw)
		assert.Equal(t, gatekeeper.PurposeAccess, purpose)
		return &gatekeeper.TokenClaims{SubjectID: "user-1"}, nil
	})

	claims, err := verifier.Verify("raw", gatekeeper.PurposeAccess, t0)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "user-1", claims.SubjectID)

	var nilFunc gatekeeper.TokenVerifierFunc
	_, err = nilFunc.Verify("raw", gatekeeper.PurposeAccess, t0)
	assert.True(t, gatekeeper.IsTokenRejected(err))
}

func TestTokenService_SatisfiesInterfaces(t *testing.T) {
	var issuer gatekeeper.TokenIssuer = newTokenService()
	var verifier gatekeeper.TokenVerifier = newTokenService()

	pair, err := issuer.Issue("user-1", "a", t0)
	require.NoError(t, err)

	claims, err := verifier.Verify(pair.Access.Raw, gatekeeper.PurposeAccess, t0)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.SubjectID)
}
