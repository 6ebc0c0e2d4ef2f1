// Package client talks to a gatekeeper server over HTTP and implements
// gatekeeper.IdentityProvider so it can back a client side Sessions.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	gatekeeper "github.com/goliatone/go-gatekeeper"
)

const defaultTimeout = 15 * time.Second

// HTTPProvider keeps the latest access token in memory. Refresh tokens are
// persisted by Sessions, not here.
type HTTPProvider struct {
	baseURL string
	http    *http.Client

	mu          sync.RWMutex
	accessToken string
}

var _ gatekeeper.IdentityProvider = (*HTTPProvider)(nil)

type Option func(*HTTPProvider)

// WithHTTPClient replaces the default client
func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTPProvider) {
		if c != nil {
			p.http = c
		}
	}
}

func NewHTTPProvider(baseURL string, opts ...Option) *HTTPProvider {
	p := &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (p *HTTPProvider) SignIn(ctx context.Context, email, password string) (*gatekeeper.AuthResult, error) {
	return p.authenticate(ctx, "/auth/sign-in", credentials{Email: email, Password: password})
}

func (p *HTTPProvider) SignUp(ctx context.Context, email, password string) (*gatekeeper.AuthResult, error) {
	return p.authenticate(ctx, "/auth/sign-up", credentials{Email: email, Password: password})
}

func (p *HTTPProvider) Refresh(ctx context.Context, refreshToken string) (*gatekeeper.AuthResult, error) {
	return p.authenticate(ctx, "/auth/refresh", map[string]string{"refresh_token": refreshToken})
}

// SignOut tells the server when an access token is held. Without one there
// is no server side session to end and the call succeeds.
func (p *HTTPProvider) SignOut(ctx context.Context) error {
	token := p.AccessToken()
	if token == "" {
		return nil
	}

	if err := p.do(ctx, http.MethodPost, "/auth/sign-out", token, nil, nil); err != nil {
		return err
	}

	p.setAccessToken("")
	return nil
}

// CurrentUser returns nil without error when no access token is held or
// the server no longer accepts it.
func (p *HTTPProvider) CurrentUser(ctx context.Context) (*gatekeeper.Principal, error) {
	token := p.AccessToken()
	if token == "" {
		return nil, nil
	}

	principal := new(gatekeeper.Principal)
	if err := p.do(ctx, http.MethodGet, "/auth/me", token, nil, principal); err != nil {
		if isUnauthorized(err) {
			return nil, nil
		}
		return nil, err
	}
	return principal, nil
}

// Principal fetches any principal through the admin route
func (p *HTTPProvider) Principal(ctx context.Context, id string) (*gatekeeper.Principal, error) {
	principal := new(gatekeeper.Principal)
	if err := p.do(ctx, http.MethodGet, "/admin/principals/"+id, p.AccessToken(), nil, principal); err != nil {
		return nil, err
	}
	return principal, nil
}

func (p *HTTPProvider) AccessToken() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.accessToken
}

func (p *HTTPProvider) setAccessToken(token string) {
	p.mu.Lock()
	p.accessToken = token
	p.mu.Unlock()
}

func (p *HTTPProvider) authenticate(ctx context.Context, path string, body any) (*gatekeeper.AuthResult, error) {
	res := new(gatekeeper.AuthResult)
	if err := p.do(ctx, http.MethodPost, path, "", body, res); err != nil {
		return nil, err
	}
	p.setAccessToken(res.Tokens.Access.Raw)
	return res, nil
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (p *HTTPProvider) do(ctx context.Context, method, path, token string, in, out any) error {
	var reader io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "encode request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "gatekeeper server unreachable").
			WithMetadata(map[string]any{"path": path})
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "decode response").
			WithMetadata(map[string]any{"path": path})
	}
	return nil
}

// decodeError maps a server error body back onto the gatekeeper
// sentinels so callers can match them with goerrors.Is.
func decodeError(resp *http.Response) error {
	body := errorBody{}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)

	if sentinel, ok := sentinels[body.Code]; ok {
		return sentinel
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return gatekeeper.ErrAccessDenied
	}

	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	category := goerrors.CategoryBadInput
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		category = goerrors.CategoryRateLimit
	case resp.StatusCode == http.StatusNotFound:
		category = goerrors.CategoryNotFound
	case resp.StatusCode == http.StatusConflict:
		category = goerrors.CategoryConflict
	case resp.StatusCode >= http.StatusInternalServerError:
		category = goerrors.CategoryOperation
	}

	return goerrors.New(msg, category).
		WithCode(resp.StatusCode).
		WithTextCode(body.Code)
}

var sentinels = map[string]error{
	gatekeeper.TextCodeInvalidEmail:       gatekeeper.ErrInvalidEmail,
	gatekeeper.TextCodeEmptyPassword:      gatekeeper.ErrEmptyPassword,
	gatekeeper.TextCodeWeakPassword:       gatekeeper.ErrWeakPassword,
	gatekeeper.TextCodeInvalidCredentials: gatekeeper.ErrInvalidCredentials,
	gatekeeper.TextCodeTooManyAttempts:    gatekeeper.ErrTooManyLoginAttempts,
	gatekeeper.TextCodePrincipalDisabled:  gatekeeper.ErrPrincipalDisabled,
	gatekeeper.TextCodePrincipalNotFound:  gatekeeper.ErrPrincipalNotFound,
	gatekeeper.TextCodeEmailTaken:         gatekeeper.ErrEmailTaken,
}

func isUnauthorized(err error) bool {
	return goerrors.Is(err, gatekeeper.ErrAccessDenied) || gatekeeper.IsAccessDenied(err)
}
