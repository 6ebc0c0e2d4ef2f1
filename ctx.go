package gatekeeper

import (
	"context"
)

var principalCtxKey = &contextKey{"principal"}
var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithPrincipalContext sets the Principal in the given context
func WithPrincipalContext(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, principal)
}

// PrincipalFromContext finds the principal from the context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	raw, ok := ctx.Value(principalCtxKey).(*Principal)
	return raw, ok && raw != nil
}

// WithClaimsContext sets verified access claims in the given context
func WithClaimsContext(ctx context.Context, claims *TokenClaims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// ClaimsFromContext extracts verified claims from the standard context
func ClaimsFromContext(ctx context.Context) (*TokenClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*TokenClaims)
	return raw, ok && raw != nil
}
