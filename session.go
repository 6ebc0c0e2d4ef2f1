package gatekeeper

import (
	"context"

	"github.com/goliatone/go-gatekeeper/keychain"
)

// Sessions is the client facing session use case. Input is checked locally
// before the identity provider is called, and successful outcomes are
// mirrored into the credential store.
type Sessions struct {
	provider          IdentityProvider
	store             keychain.Store
	logger            Logger
	minPasswordLength int
}

func NewSessions(provider IdentityProvider, store keychain.Store) *Sessions {
	return &Sessions{
		provider:          provider,
		store:             store,
		logger:            defLogger{},
		minPasswordLength: DefaultMinPasswordLength,
	}
}

func (s *Sessions) WithLogger(logger Logger) *Sessions {
	s.logger = resolveLogger(logger)
	return s
}

func (s *Sessions) WithMinPasswordLength(n int) *Sessions {
	if n > 0 {
		s.minPasswordLength = n
	}
	return s
}

// WithConfig reads the password policy from cfg
func (s *Sessions) WithConfig(cfg Config) *Sessions {
	if cfg != nil {
		s.WithMinPasswordLength(cfg.GetMinPasswordLength())
	}
	return s
}

// SignIn authenticates email and password. Provider errors are returned
// unchanged. A failure to persist the session returns ErrCredentialStore.
func (s *Sessions) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	if err := ValidateSignIn(email, password); err != nil {
		return nil, err
	}

	res, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if err := s.remember(ctx, email, res); err != nil {
		return nil, err
	}
	return res, nil
}

// SignUp registers a new principal and signs it in
func (s *Sessions) SignUp(ctx context.Context, email, password string) (*AuthResult, error) {
	if err := ValidateSignUp(email, password, s.minPasswordLength); err != nil {
		return nil, err
	}

	res, err := s.provider.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if err := s.remember(ctx, email, res); err != nil {
		return nil, err
	}
	return res, nil
}

// SignOut ends the provider session and then clears the cached entries.
// When the provider fails the entries are left in place.
func (s *Sessions) SignOut(ctx context.Context) error {
	if err := s.provider.SignOut(ctx); err != nil {
		return err
	}

	for _, key := range keychain.SessionKeys {
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.Error("failed to clear credential", "key", key, "error", err)
			return credentialStoreFailure("delete", key, err)
		}
	}
	return nil
}

// CurrentUser asks the provider. The credential store is not consulted.
func (s *Sessions) CurrentUser(ctx context.Context) (*Principal, error) {
	return s.provider.CurrentUser(ctx)
}

func (s *Sessions) IsSignedIn(ctx context.Context) (bool, error) {
	principal, err := s.CurrentUser(ctx)
	if err != nil {
		return false, err
	}
	return principal != nil, nil
}

// Refresh exchanges a refresh token for a new pair. When refreshToken is
// empty the cached token is used. The previous token stays valid until it
// expires.
func (s *Sessions) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if refreshToken == "" {
		cached, ok, err := s.store.Load(ctx, keychain.KeyUserToken)
		if err != nil {
			return nil, credentialStoreFailure("load", keychain.KeyUserToken, err)
		}
		if !ok || cached == "" {
			return nil, tokenRejected(RejectMalformed, nil)
		}
		refreshToken = cached
	}

	res, err := s.provider.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	if res != nil && res.Tokens.Refresh.Raw != "" {
		if err := s.store.Save(ctx, keychain.KeyUserToken, res.Tokens.Refresh.Raw); err != nil {
			return nil, credentialStoreFailure("save", keychain.KeyUserToken, err)
		}
	}
	return res, nil
}

// remember writes the session keys in order. When one write fails the keys
// already written are removed again so no half session is left behind.
func (s *Sessions) remember(ctx context.Context, email string, res *AuthResult) error {
	type entry struct {
		key    keychain.Key
		secret string
	}

	entries := []entry{{keychain.KeyUserEmail, email}}
	if res != nil {
		if res.Principal != nil && res.Principal.ID != "" {
			entries = append(entries, entry{keychain.KeyCurrentUserID, res.Principal.ID})
		}
		if res.Tokens.Refresh.Raw != "" {
			entries = append(entries, entry{keychain.KeyUserToken, res.Tokens.Refresh.Raw})
		}
	}

	for i, e := range entries {
		if err := s.store.Save(ctx, e.key, e.secret); err != nil {
			s.logger.Error("failed to store credential", "key", e.key, "error", err)
			for _, written := range entries[:i] {
				if derr := s.store.Delete(ctx, written.key); derr != nil {
					s.logger.Warn("failed to roll back credential", "key", written.key, "error", derr)
				}
			}
			return credentialStoreFailure("save", e.key, err)
		}
	}
	return nil
}
