package gatekeeper_test

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-gatekeeper"
	"github.com/goliatone/go-gatekeeper/keychain"
	"github.com/stretchr/testify/mock"
)

// MockIdentityProvider implements gatekeeper.IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) SignIn(ctx context.Context, email, password string) (*gatekeeper.AuthResult, error) {
	args := m.Called(ctx, email, password)
	res, _ := args.Get(0).(*gatekeeper.AuthResult)
	return res, args.Error(1)
}

func (m *MockIdentityProvider) SignUp(ctx context.Context, email, password string) (*gatekeeper.AuthResult, error) {
	args := m.Called(ctx, email, password)
	res, _ := args.Get(0).(*gatekeeper.AuthResult)
	return res, args.Error(1)
}

func (m *MockIdentityProvider) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIdentityProvider) CurrentUser(ctx context.Context) (*gatekeeper.Principal, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*gatekeeper.Principal)
	return res, args.Error(1)
}

func (m *MockIdentityProvider) Refresh(ctx context.Context, refreshToken string) (*gatekeeper.AuthResult, error) {
	args := m.Called(ctx, refreshToken)
	res, _ := args.Get(0).(*gatekeeper.AuthResult)
	return res, args.Error(1)
}

// MockPrincipalRepository implements gatekeeper.PrincipalRepository
type MockPrincipalRepository struct {
	mock.Mock
}

func (m *MockPrincipalRepository) FindByID(ctx context.Context, id string) (*gatekeeper.Principal, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*gatekeeper.Principal)
	return res, args.Error(1)
}

func (m *MockPrincipalRepository) Authenticate(ctx context.Context, email, password string) (*gatekeeper.Principal, error) {
	args := m.Called(ctx, email, password)
	res, _ := args.Get(0).(*gatekeeper.Principal)
	return res, args.Error(1)
}

func (m *MockPrincipalRepository) Create(ctx context.Context, email, password string) (*gatekeeper.Principal, error) {
	args := m.Called(ctx, email, password)
	res, _ := args.Get(0).(*gatekeeper.Principal)
	return res, args.Error(1)
}

// MockStore implements keychain.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Save(ctx context.Context, key keychain.Key, secret string) error {
	args := m.Called(ctx, key, secret)
	return args.Error(0)
}

func (m *MockStore) Load(ctx context.Context, key keychain.Key) (string, bool, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockStore) Delete(ctx context.Context, key keychain.Key) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// recordingSink collects activity events
type recordingSink struct {
	mu     sync.Mutex
	events []gatekeeper.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event gatekeeper.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []gatekeeper.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gatekeeper.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type testConfig struct {
	signingKey      string
	issuer          string
	audience        []string
	accessLifetime  time.Duration
	refreshLifetime time.Duration
	minPassword     int
}

func (c testConfig) GetSigningKey() string                  { return c.signingKey }
func (c testConfig) GetIssuer() string                      { return c.issuer }
func (c testConfig) GetAudience() []string                  { return c.audience }
func (c testConfig) GetAccessTokenLifetime() time.Duration  { return c.accessLifetime }
func (c testConfig) GetRefreshTokenLifetime() time.Duration { return c.refreshLifetime }
func (c testConfig) GetMinPasswordLength() int              { return c.minPassword }
func (c testConfig) GetTokenLookup() string                 { return "header:Authorization" }
func (c testConfig) GetAuthScheme() string                  { return "Bearer" }

func newTestConfig() testConfig {
	return testConfig{
		signingKey: "test-signing-key",
		issuer:     "gatekeeper-test",
	}
}

func newTokenService() *gatekeeper.TokenService {
	ts, err := gatekeeper.NewTokenService(newTestConfig(), nopLogger{})
	if err != nil {
		panic(err)
	}
	return ts
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
