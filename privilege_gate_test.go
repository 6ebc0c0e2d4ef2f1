package gatekeeper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-gatekeeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newGate(repo *MockPrincipalRepository, sink gatekeeper.ActivitySink, now time.Time) (*gatekeeper.PrivilegeGate, *gatekeeper.TokenService) {
	ts := newTokenService()
	gate := gatekeeper.NewPrivilegeGate(ts, repo).
		WithLogger(nopLogger{}).
		WithActivitySink(sink).
		WithClock(func() time.Time { return now })
	return gate, ts
}

func TestPrivilegeGate_AllowsPrivilegedPrincipal(t *testing.T) {
	repo := new(MockPrincipalRepository)
	repo.On("FindByID", mock.Anything, "admin-1").
		Return(&gatekeeper.Principal{ID: "admin-1", IsPrivileged: true}, nil)

	gate, ts := newGate(repo, nil, t0.Add(time.Minute))
	pair, err := ts.Issue("admin-1", "admin", t0)
	require.NoError(t, err)

	principal, err := gate.Authorize(t.Context(), pair.Access.Raw)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", principal.ID)
}

func TestPrivilegeGate_DeniesWithOneGenericError(t *testing.T) {
	ts := newTokenService()
	pair, err := ts.Issue("user-1", "user", t0)
	require.NoError(t, err)

	foreign, err := gatekeeper.NewTokenService(testConfig{signingKey: "other-key", issuer: "gatekeeper-test"}, nopLogger{})
	require.NoError(t, err)
	foreignPair, err := foreign.Issue("user-1", "user", t0)
	require.NoError(t, err)

	cases := []struct {
		name       string
		raw        string
		now        time.Time
		principal  *gatekeeper.Principal
		lookupErr  error
		wantReason string
	}{
		{name: "missing token", raw: "", now: t0, wantReason: "missing_token"},
		{name: "garbage token", raw: "not-a-jwt", now: t0, wantReason: "token_malformed"},
		{name: "foreign signature", raw: foreignPair.Access.Raw, now: t0, wantReason: "token_signature"},
		{name: "expired token", raw: pair.Access.Raw, now: t0.Add(24 * time.Hour), wantReason: "token_expired"},
		{name: "refresh token", raw: pair.Refresh.Raw, now: t0, wantReason: "token_wrong_purpose"},
		{
			name:       "deleted principal",
			raw:        pair.Access.Raw,
			now:        t0,
			lookupErr:  gatekeeper.ErrPrincipalNotFound,
			wantReason: "principal_lookup",
		},
		{
			name:       "flag not set",
			raw:        pair.Access.Raw,
			now:        t0,
			principal:  &gatekeeper.Principal{ID: "user-1"},
			wantReason: "not_privileged",
		},
		{
			name:       "disabled principal",
			raw:        pair.Access.Raw,
			now:        t0,
			principal:  &gatekeeper.Principal{ID: "user-1", IsPrivileged: true, Disabled: true},
			wantReason: "principal_disabled",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := new(MockPrincipalRepository)
			repo.On("FindByID", mock.Anything, "user-1").Return(tc.principal, tc.lookupErr).Maybe()

			sink := &recordingSink{}
			gate := gatekeeper.NewPrivilegeGate(ts, repo).
				WithLogger(nopLogger{}).
				WithActivitySink(sink).
				WithClock(func() time.Time { return tc.now })

			principal, err := gate.Authorize(t.Context(), tc.raw)
			assert.Nil(t, principal)
			assert.ErrorIs(t, err, gatekeeper.ErrAccessDenied)
			assert.Equal(t, "unauthorized", err.Error())

			require.Len(t, sink.events, 1)
			event := sink.events[0]
			assert.Equal(t, gatekeeper.ActivityEventPrivilegeDenied, event.EventType)
			assert.Equal(t, tc.wantReason, event.Metadata["reason"])
		})
	}
}

func TestPrivilegeGate_ReadsFlagOnEveryCall(t *testing.T) {
	repo := new(MockPrincipalRepository)
	repo.On("FindByID", mock.Anything, "admin-1").
		Return(&gatekeeper.Principal{ID: "admin-1", IsPrivileged: true}, nil).Once()
	repo.On("FindByID", mock.Anything, "admin-1").
		Return(&gatekeeper.Principal{ID: "admin-1", IsPrivileged: false}, nil).Once()

	gate, ts := newGate(repo, nil, t0)
	pair, err := ts.Issue("admin-1", "admin", t0)
	require.NoError(t, err)

	_, err = gate.Authorize(t.Context(), pair.Access.Raw)
	require.NoError(t, err)

	// same token, flag revoked between calls
	_, err = gate.Authorize(t.Context(), pair.Access.Raw)
	assert.ErrorIs(t, err, gatekeeper.ErrAccessDenied)

	repo.AssertNumberOfCalls(t, "FindByID", 2)
}

func TestPrivilegeGate_Guard(t *testing.T) {
	repo := new(MockPrincipalRepository)
	repo.On("FindByID", mock.Anything, "admin-1").
		Return(&gatekeeper.Principal{ID: "admin-1", IsPrivileged: true}, nil)

	gate, ts := newGate(repo, nil, t0)
	pair, err := ts.Issue("admin-1", "admin", t0)
	require.NoError(t, err)

	var seen *gatekeeper.Principal
	err = gate.Guard(t.Context(), pair.Access.Raw, func(ctx context.Context, p *gatekeeper.Principal) error {
		fromCtx, ok := gatekeeper.PrincipalFromContext(ctx)
		require.True(t, ok)
		assert.Same(t, p, fromCtx)
		seen = p
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, "admin-1", seen.ID)

	boom := errors.New("boom")
	err = gate.Guard(t.Context(), pair.Access.Raw, func(context.Context, *gatekeeper.Principal) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	called := false
	err = gate.Guard(t.Context(), "", func(context.Context, *gatekeeper.Principal) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, gatekeeper.ErrAccessDenied)
	assert.False(t, called)
}
