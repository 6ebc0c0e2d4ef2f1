package gatekeeper

import (
	"context"
	"time"
)

// Authenticator is the in-process IdentityProvider. It verifies
// credentials through a PrincipalRepository and mints tokens with a
// TokenService. Session state is carried by the request context.
type Authenticator struct {
	principals   PrincipalRepository
	tokens       *TokenService
	logger       Logger
	activitySink ActivitySink
	clock        func() time.Time
}

var _ IdentityProvider = (*Authenticator)(nil)

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(principals PrincipalRepository, tokens *TokenService) *Authenticator {
	return &Authenticator{
		principals:   principals,
		tokens:       tokens,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		clock:        time.Now,
	}
}

func (a *Authenticator) WithLogger(logger Logger) *Authenticator {
	a.logger = resolveLogger(logger)
	return a
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (a *Authenticator) WithActivitySink(sink ActivitySink) *Authenticator {
	a.activitySink = normalizeActivitySink(sink)
	return a
}

func (a *Authenticator) WithClock(clock func() time.Time) *Authenticator {
	if clock != nil {
		a.clock = clock
	}
	return a
}

// TokenService returns the TokenService instance used by this Authenticator
func (a *Authenticator) TokenService() *TokenService {
	return a.tokens
}

// SignIn checks credentials and issues a fresh token pair. Repository
// errors are returned unchanged.
func (a *Authenticator) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	principal, err := a.principals.Authenticate(ctx, email, password)
	if err != nil {
		a.logger.Error("SignIn authenticate error", "error", err)
		a.emit(ctx, ActivityEventLoginFailure, nil, map[string]any{
			"email": email,
			"error": err.Error(),
		})
		return nil, err
	}

	result, err := a.issue(principal)
	if err != nil {
		return nil, err
	}

	a.emit(ctx, ActivityEventLoginSuccess, principal, nil)
	return result, nil
}

// SignUp creates the principal and issues its first token pair
func (a *Authenticator) SignUp(ctx context.Context, email, password string) (*AuthResult, error) {
	principal, err := a.principals.Create(ctx, email, password)
	if err != nil {
		a.logger.Error("SignUp create principal error", "error", err)
		return nil, err
	}

	result, err := a.issue(principal)
	if err != nil {
		return nil, err
	}

	a.emit(ctx, ActivityEventSignUp, principal, nil)
	return result, nil
}

// SignOut records the event. Tokens are not revoked, they expire.
func (a *Authenticator) SignOut(ctx context.Context) error {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		if claims, found := ClaimsFromContext(ctx); found {
			principal = &Principal{ID: claims.SubjectID, Username: claims.SubjectName}
		}
	}
	a.emit(ctx, ActivityEventSignOut, principal, nil)
	return nil
}

// CurrentUser reloads the principal behind the verified claims in ctx
func (a *Authenticator) CurrentUser(ctx context.Context) (*Principal, error) {
	if principal, ok := PrincipalFromContext(ctx); ok {
		return principal, nil
	}

	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, nil
	}

	principal, err := a.principals.FindByID(ctx, claims.SubjectID)
	if err != nil {
		return nil, err
	}
	if principal == nil || principal.Disabled {
		return nil, nil
	}
	return principal, nil
}

// Refresh verifies a refresh token and mints a new pair. The presented
// token stays valid until its own expiry.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	claims, err := a.tokens.Verify(refreshToken, PurposeRefresh, a.clock())
	if err != nil {
		return nil, err
	}

	principal, err := a.principals.FindByID(ctx, claims.SubjectID)
	if err != nil {
		a.logger.Warn("Refresh for unknown subject", "subject", claims.SubjectID, "error", err)
		return nil, tokenRejected(RejectUnknownSubject, err)
	}

	if principal == nil || principal.Disabled {
		a.logger.Info("Refresh for disabled subject", "subject", claims.SubjectID)
		return nil, tokenRejected(RejectDisabled, nil)
	}

	result, err := a.issue(principal)
	if err != nil {
		return nil, err
	}

	a.emit(ctx, ActivityEventTokenRefreshed, principal, map[string]any{
		"previous_jti": claims.ID,
	})
	return result, nil
}

// Principal loads a principal by id
func (a *Authenticator) Principal(ctx context.Context, id string) (*Principal, error) {
	return a.principals.FindByID(ctx, id)
}

func (a *Authenticator) issue(principal *Principal) (*AuthResult, error) {
	pair, err := a.tokens.Issue(principal.ID, principal.Username, a.clock())
	if err != nil {
		a.logger.Error("failed to issue token pair", "error", err)
		return nil, err
	}
	return &AuthResult{Principal: principal, Tokens: pair}, nil
}

func (a *Authenticator) emit(ctx context.Context, eventType ActivityEventType, principal *Principal, metadata map[string]any) {
	sink := normalizeActivitySink(a.activitySink)
	event := ActivityEvent{
		EventType:  eventType,
		Metadata:   metadata,
		OccurredAt: a.clock(),
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if principal != nil {
		event.UserID = principal.ID
		event.Email = principal.Email
		event.Username = principal.Username
	}

	if err := sink.Record(ctx, event); err != nil {
		a.logger.Warn("activity sink record error", "error", err)
	}
}
