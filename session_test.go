package gatekeeper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-gatekeeper"
	"github.com/goliatone/go-gatekeeper/keychain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func resultFor(t *testing.T, ts *gatekeeper.TokenService, id, email string, now time.Time) *gatekeeper.AuthResult {
	t.Helper()
	pair, err := ts.Issue(id, email, now)
	require.NoError(t, err)
	return &gatekeeper.AuthResult{
		Principal: &gatekeeper.Principal{ID: id, Email: email},
		Tokens:    pair,
	}
}

func TestSessions_ValidationRunsBeforeProvider(t *testing.T) {
	provider := new(MockIdentityProvider)
	store := keychain.NewMemoryStore()
	sessions := gatekeeper.NewSessions(provider, store).WithLogger(nopLogger{})

	badEmails := []string{"", "plain", "a@b", "a@@b.co", "a@b.c"}
	for _, email := range badEmails {
		_, err := sessions.SignIn(t.Context(), email, "password")
		assert.ErrorIs(t, err, gatekeeper.ErrInvalidEmail, email)

		_, err = sessions.SignUp(t.Context(), email, "password")
		assert.ErrorIs(t, err, gatekeeper.ErrInvalidEmail, email)
	}

	_, err := sessions.SignIn(t.Context(), "a@b.co", "")
	assert.ErrorIs(t, err, gatekeeper.ErrEmptyPassword)

	_, err = sessions.SignUp(t.Context(), "a@b.co", "abc")
	assert.True(t, gatekeeper.HasTextCode(err, gatekeeper.TextCodeWeakPassword))

	provider.AssertNumberOfCalls(t, "SignIn", 0)
	provider.AssertNumberOfCalls(t, "SignUp", 0)
	assert.Equal(t, 0, store.Len())
}

func TestSessions_SignInStoresCredential(t *testing.T) {
	ts := newTokenService()
	res := resultFor(t, ts, "user-1", "a@b.co", t0)

	provider := new(MockIdentityProvider)
	provider.On("SignIn", mock.Anything, "a@b.co", "password").Return(res, nil).Once()

	store := keychain.NewMemoryStore()
	sessions := gatekeeper.NewSessions(provider, store).WithLogger(nopLogger{})

	got, err := sessions.SignIn(t.Context(), "a@b.co", "password")
	require.NoError(t, err)
	assert.Same(t, res, got)

	email, ok, err := store.Load(t.Context(), keychain.KeyUserEmail)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a@b.co", email)

	id, _, _ := store.Load(t.Context(), keychain.KeyCurrentUserID)
	assert.Equal(t, "user-1", id)

	token, _, _ := store.Load(t.Context(), keychain.KeyUserToken)
	assert.Equal(t, res.Tokens.Refresh.Raw, token)

	provider.AssertExpectations(t)
}

func TestSessions_ProviderErrorsPassThrough(t *testing.T) {
	provider := new(MockIdentityProvider)
	provider.On("SignIn", mock.Anything, "a@b.co", "password").Return(nil, gatekeeper.ErrTooManyLoginAttempts)
	provider.On("SignUp", mock.Anything, "a@b.co", "password").Return(nil, gatekeeper.ErrEmailTaken)

	store := keychain.NewMemoryStore()
	sessions := gatekeeper.NewSessions(provider, store).WithLogger(nopLogger{})

	_, err := sessions.SignIn(t.Context(), "a@b.co", "password")
	assert.Equal(t, gatekeeper.ErrTooManyLoginAttempts, err)

	_, err = sessions.SignUp(t.Context(), "a@b.co", "password")
	assert.Equal(t, gatekeeper.ErrEmailTaken, err)

	assert.Equal(t, 0, store.Len())
}

func TestSessions_StoreFailureIsReported(t *testing.T) {
	ts := newTokenService()
	res := resultFor(t, ts, "user-1", "a@b.co", t0)

	provider := new(MockIdentityProvider)
	provider.On("SignIn", mock.Anything, "a@b.co", "password").Return(res, nil)

	store := new(MockStore)
	store.On("Save", mock.Anything, keychain.KeyUserEmail, "a@b.co").Return(errors.New("disk full"))

	sessions := gatekeeper.NewSessions(provider, store).WithLogger(nopLogger{})

	got, err := sessions.SignIn(t.Context(), "a@b.co", "password")
	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, gatekeeper.IsCredentialStoreError(err))
}

func TestSessions_PartialStoreFailureRollsBack(t *testing.T) {
	ts := newTokenService()
	res := resultFor(t, ts, "user-1", "a@b.co", t0)

	provider := new(MockIdentityProvider)
	provider.On("SignIn", mock.Anything, "a@b.co", "password").Return(res, nil)

	store := new(MockStore)
	store.On("Save", mock.Anything, keychain.KeyUserEmail, "a@b.co").Return(nil)
	store.On("Save", mock.Anything, keychain.KeyCurrentUserID, "user-1").Return(nil)
	store.On("Save", mock.Anything, keychain.KeyUserToken, res.Tokens.Refresh.Raw).Return(errors.New("disk full"))
	store.On("Delete", mock.Anything, keychain.KeyUserEmail).Return(nil).Once()
	store.On("Delete", mock.Anything, keychain.KeyCurrentUserID).Return(errors.New("locked")).Once()

	sessions := gatekeeper.NewSessions(provider, store).WithLogger(nopLogger{})

	got, err := sessions.SignIn(t.Context(), "a@b.co", "password")
	assert.Nil(t, got)
	assert.True(t, gatekeeper.IsCredentialStoreError(err))

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "Delete", mock.Anything, keychain.KeyUserToken)
}

func TestSessions_SignUpEndToEnd(t *testing.T) {
	ts := newTokenService()
	repo := new(MockPrincipalRepository)
	repo.On("Create", mock.Anything, "a@b.co", "12345678").
		Return(&gatekeeper.Principal{ID: "user-1", Email: "a@b.co", Username: "a"}, nil).Once()

	auth := gatekeeper.NewAuthenticator(repo, ts).
		WithLogger(nopLogger{}).
		WithClock(func() time.Time { return t0 })

	store := keychain.NewMemoryStore()
	sessions := gatekeeper.NewSessions(auth, store).WithLogger(nopLogger{})

	res, err := sessions.SignUp(t.Context(), "a@b.co", "12345678")
	require.NoError(t, err)

	email, ok, err := store.Load(t.Context(), keychain.KeyUserEmail)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a@b.co", email)

	access := res.Tokens.Access.Claims
	assert.True(t, access.IssuedAt.Equal(t0))
	assert.True(t, access.ExpiresAt.Equal(t0.Add(24*time.Hour)))

	_, err = ts.Verify(res.Tokens.Access.Raw, gatekeeper.PurposeAccess, t0.Add(24*time.Hour-time.Second))
	assert.NoError(t, err)

	// weak password writes nothing
	other := keychain.NewMemoryStore()
	_, err = gatekeeper.NewSessions(auth, other).SignUp(t.Context(), "c@d.co", "1234")
	assert.True(t, gatekeeper.HasTextCode(err, gatekeeper.TextCodeWeakPassword))
	assert.Equal(t, 0, other.Len())

	repo.AssertExpectations(t)
	repo.AssertNumberOfCalls(t, "Create", 1)
}

func TestSessions_MinPasswordLengthFromConfig(t *testing.T) {
	provider := new(MockIdentityProvider)
	cfg := newTestConfig()
	cfg.minPassword = 10

	sessions := gatekeeper.NewSessions(provider, keychain.NewMemoryStore()).WithConfig(cfg)

	_, err := sessions.SignUp(t.Context(), "a@b.co", "123456789")
	assert.True(t, gatekeeper.HasTextCode(err, gatekeeper.TextCodeWeakPassword))
	provider.AssertNotCalled(t, "SignUp", mock.Anything, mock.Anything, mock.Anything)
}

func TestSessions_SignOut(t *testing.T) {
	t.Run("clears entries after provider success", func(t *testing.T) {
		provider := new(MockIdentityProvider)
		provider.On("SignOut", mock.Anything).Return(nil).Once()

		store := keychain.NewMemoryStore()
		for _, key := range keychain.SessionKeys {
			require.NoError(t, store.Save(t.Context(), key, "v"))
		}

		sessions := gatekeeper.NewSessions(provider, store).WithLogger(nopLogger{})
		require.NoError(t, sessions.SignOut(t.Context()))
		assert.Equal(t, 0, store.Len())

		// nothing left to delete is fine
		provider.On("SignOut", mock.Anything).Return(nil).Once()
		require.NoError(t, sessions.SignOut(t.Context()))
	})

	t.Run("keeps entries when provider fails", func(t *testing.T) {
		provider := new(MockIdentityProvider)
		provider.On("SignOut", mock.Anything).Return(errors.New("network down"))

		store := keychain.NewMemoryStore()
		require.NoError(t, store.Save(t.Context(), keychain.KeyUserEmail, "a@b.co"))

		sessions := gatekeeper.NewSessions(provider, store).WithLogger(nopLogger{})
		require.Error(t, sessions.SignOut(t.Context()))

		email, ok, err := store.Load(t.Context(), keychain.KeyUserEmail)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "a@b.co", email)
	})

	t.Run("store failure", func(t *testing.T) {
		provider := new(MockIdentityProvider)
		provider.On("SignOut", mock.Anything).Return(nil)

		store := new(MockStore)
		store.On("Delete", mock.Anything, keychain.KeyUserEmail).Return(errors.New("locked"))

		sessions := gatekeeper.NewSessions(provider, store).WithLogger(nopLogger{})
		err := sessions.SignOut(t.Context())
		assert.True(t, gatekeeper.IsCredentialStoreError(err))
	})
}

func TestSessions_CurrentUserReadsProviderOnly(t *testing.T) {
	provider := new(MockIdentityProvider)
	provider.On("CurrentUser", mock.Anything).Return(nil, nil).Once()
	provider.On("CurrentUser", mock.Anything).Return(&gatekeeper.Principal{ID: "user-1"}, nil).Once()

	store := new(MockStore)
	sessions := gatekeeper.NewSessions(provider, store)

	signedIn, err := sessions.IsSignedIn(t.Context())
	require.NoError(t, err)
	assert.False(t, signedIn)

	user, err := sessions.CurrentUser(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)

	store.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
}

func TestSessions_Refresh(t *testing.T) {
	ts := newTokenService()
	first := resultFor(t, ts, "user-1", "a@b.co", t0)
	second := resultFor(t, ts, "user-1", "a@b.co", t0.Add(time.Hour))

	provider := new(MockIdentityProvider)
	provider.On("Refresh", mock.Anything, first.Tokens.Refresh.Raw).Return(second, nil).Once()
	provider.On("Refresh", mock.Anything, "explicit").Return(nil, gatekeeper.ErrAccessDenied).Once()

	store := keychain.NewMemoryStore()
	sessions := gatekeeper.NewSessions(provider, store).WithLogger(nopLogger{})

	_, err := sessions.Refresh(t.Context(), "")
	assert.True(t, gatekeeper.IsTokenRejected(err))

	require.NoError(t, store.Save(t.Context(), keychain.KeyUserToken, first.Tokens.Refresh.Raw))

	res, err := sessions.Refresh(t.Context(), "")
	require.NoError(t, err)
	assert.Same(t, second, res)

	token, _, _ := store.Load(t.Context(), keychain.KeyUserToken)
	assert.Equal(t, second.Tokens.Refresh.Raw, token)

	_, err = sessions.Refresh(t.Context(), "explicit")
	assert.ErrorIs(t, err, gatekeeper.ErrAccessDenied)

	provider.AssertExpectations(t)
}

func TestSessions_ConcurrentSignIns(t *testing.T) {
	ts := newTokenService()
	provider := new(MockIdentityProvider)
	provider.On("SignIn", mock.Anything, mock.Anything, "password").
		Return(resultFor(t, ts, "user-1", "a@b.co", t0), nil)

	store := keychain.NewMemoryStore()
	sessions := gatekeeper.NewSessions(provider, store).WithLogger(nopLogger{})

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := sessions.SignIn(context.Background(), "a@b.co", "password")
			done <- err
		}()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-done)
	}

	assert.Equal(t, len(keychain.SessionKeys), store.Len())
}
