package gatekeeper

import (
	"context"
	"time"

	"github.com/goliatone/go-gatekeeper/middleware/jwtware"
)

// ValidationListener aliases the jwtware listener so consumers can use gatekeeper helpers directly.
type ValidationListener = jwtware.ValidationListener

// AccessTokenValidator adapts a TokenVerifier to jwtware. Only access
// tokens pass and the stored value is *TokenClaims.
func AccessTokenValidator(verifier TokenVerifier, clock func() time.Time) jwtware.TokenValidator {
	if clock == nil {
		clock = time.Now
	}
	return jwtware.TokenValidatorFunc(func(_ context.Context, raw string) (any, error) {
		return verifier.Verify(raw, PurposeAccess, clock())
	})
}

// PrivilegedValidator adapts a PrivilegeGate to jwtware. The stored value
// is the live *Principal.
func PrivilegedValidator(gate *PrivilegeGate) jwtware.TokenValidator {
	return jwtware.TokenValidatorFunc(func(ctx context.Context, raw string) (any, error) {
		return gate.Authorize(ctx, raw)
	})
}

// ContextEnricherAdapter stores validated claims or principals in the
// standard context for downstream handlers.
func ContextEnricherAdapter(ctx context.Context, value any) context.Context {
	switch v := value.(type) {
	case *TokenClaims:
		return WithClaimsContext(ctx, v)
	case *Principal:
		return WithPrincipalContext(ctx, v)
	default:
		return ctx
	}
}

// RegisterValidationListeners appends listeners to a jwtware.Config in a safe, reusable way.
func RegisterValidationListeners(cfg *jwtware.Config, listeners ...ValidationListener) {
	if cfg == nil || len(listeners) == 0 {
		return
	}
	cfg.ValidationListeners = append(cfg.ValidationListeners, listeners...)
}
