package gatekeeper_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-gatekeeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type controllerFixture struct {
	app    *fiber.App
	repo   *MockPrincipalRepository
	tokens *gatekeeper.TokenService
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()

	clock := func() time.Time { return t0 }
	repo := new(MockPrincipalRepository)
	tokens := newTokenService()

	auth := gatekeeper.NewAuthenticator(repo, tokens).WithLogger(nopLogger{}).WithClock(clock)
	gate := gatekeeper.NewPrivilegeGate(tokens, repo).WithLogger(nopLogger{}).WithClock(clock)

	app := fiber.New(fiber.Config{ErrorHandler: gatekeeper.NewErrorHandler(nopLogger{})})
	gatekeeper.NewHTTPController(auth, gate, newTestConfig()).
		WithLogger(nopLogger{}).
		WithClock(clock).
		Register(app)

	return &controllerFixture{app: app, repo: repo, tokens: tokens}
}

func (f *controllerFixture) post(t *testing.T, path string, payload any, token string) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (f *controllerFixture) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeResult(t *testing.T, resp *http.Response) gatekeeper.AuthResult {
	t.Helper()
	defer resp.Body.Close()
	var res gatekeeper.AuthResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return res
}

func TestHTTPController_SignUp(t *testing.T) {
	f := newControllerFixture(t)
	f.repo.On("Create", mock.Anything, "a@b.co", "12345678").
		Return(&gatekeeper.Principal{ID: "user-1", Email: "a@b.co", Username: "a"}, nil)

	resp := f.post(t, "/auth/sign-up", gatekeeper.CredentialsRequest{Email: "a@b.co", Password: "12345678"}, "")
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	res := decodeResult(t, resp)
	assert.Equal(t, "user-1", res.Principal.ID)
	assert.NotEmpty(t, res.Tokens.Access.Raw)
	assert.True(t, res.Tokens.Access.Claims.ExpiresAt.Equal(t0.Add(24*time.Hour)))

	resp = f.post(t, "/auth/sign-up", gatekeeper.CredentialsRequest{Email: "a@b.co", Password: "1234"}, "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, gatekeeper.TextCodeWeakPassword, readJSON(t, resp)["code"])

	resp = f.post(t, "/auth/sign-up", gatekeeper.CredentialsRequest{Email: "a@b.co", Password: strings.Repeat("p", 80)}, "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, gatekeeper.TextCodePasswordTooLong, readJSON(t, resp)["code"])

	resp = f.post(t, "/auth/sign-up", gatekeeper.CredentialsRequest{Email: "not-an-email", Password: "12345678"}, "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, gatekeeper.TextCodeInvalidEmail, readJSON(t, resp)["code"])

	f.repo.AssertNumberOfCalls(t, "Create", 1)
}

func TestHTTPController_SignInAndMe(t *testing.T) {
	f := newControllerFixture(t)
	principal := &gatekeeper.Principal{ID: "user-1", Email: "a@b.co", Username: "a"}
	f.repo.On("Authenticate", mock.Anything, "a@b.co", "12345678").Return(principal, nil)
	f.repo.On("Authenticate", mock.Anything, "a@b.co", "wrong").Return(nil, gatekeeper.ErrInvalidCredentials)
	f.repo.On("FindByID", mock.Anything, "user-1").Return(principal, nil)

	resp := f.post(t, "/auth/sign-in", gatekeeper.CredentialsRequest{Email: "a@b.co", Password: "wrong"}, "")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, gatekeeper.TextCodeInvalidCredentials, readJSON(t, resp)["code"])

	resp = f.post(t, "/auth/sign-in", gatekeeper.CredentialsRequest{Email: "a@b.co", Password: "12345678"}, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	res := decodeResult(t, resp)

	resp = f.get(t, "/auth/me", res.Tokens.Access.Raw)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "a@b.co", readJSON(t, resp)["email"])

	resp = f.get(t, "/auth/me", res.Tokens.Refresh.Raw)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = f.post(t, "/auth/sign-out", nil, res.Tokens.Access.Raw)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
}

func TestHTTPController_Refresh(t *testing.T) {
	f := newControllerFixture(t)
	f.repo.On("FindByID", mock.Anything, "user-1").Return(&gatekeeper.Principal{ID: "user-1"}, nil)

	pair, err := f.tokens.Issue("user-1", "a", t0.Add(-time.Hour))
	require.NoError(t, err)

	resp := f.post(t, "/auth/refresh", gatekeeper.RefreshRequest{RefreshToken: pair.Refresh.Raw}, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	res := decodeResult(t, resp)
	assert.True(t, res.Tokens.Access.Claims.IssuedAt.Equal(t0))

	resp = f.post(t, "/auth/refresh", gatekeeper.RefreshRequest{RefreshToken: pair.Access.Raw}, "")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, map[string]any{"error": "unauthorized"}, readJSON(t, resp))

	resp = f.post(t, "/auth/refresh", gatekeeper.RefreshRequest{}, "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestHTTPController_AdminPrincipal(t *testing.T) {
	f := newControllerFixture(t)
	f.repo.On("FindByID", mock.Anything, "admin-1").Return(&gatekeeper.Principal{ID: "admin-1", IsPrivileged: true}, nil)
	f.repo.On("FindByID", mock.Anything, "user-1").Return(&gatekeeper.Principal{ID: "user-1", Email: "a@b.co"}, nil)
	f.repo.On("FindByID", mock.Anything, "ghost").Return(nil, gatekeeper.ErrPrincipalNotFound)

	admin, err := f.tokens.Issue("admin-1", "admin", t0)
	require.NoError(t, err)
	user, err := f.tokens.Issue("user-1", "a", t0)
	require.NoError(t, err)

	resp := f.get(t, "/admin/principals/user-1", admin.Access.Raw)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "a@b.co", readJSON(t, resp)["email"])

	resp = f.get(t, "/admin/principals/ghost", admin.Access.Raw)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = f.get(t, "/admin/principals/user-1", user.Access.Raw)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, map[string]any{"error": "unauthorized"}, readJSON(t, resp))
}

func TestHTTPController_MalformedBody(t *testing.T) {
	f := newControllerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/sign-in", bytes.NewBufferString("{not json"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "malformed request body", readJSON(t, resp)["error"])
}
