package gatekeeper

import (
	"context"
	"time"
)

// PrincipalFinder loads the live principal record
type PrincipalFinder interface {
	FindByID(ctx context.Context, id string) (*Principal, error)
}

// PrivilegeGate guards admin-only operations. A caller passes only when it
// presents a valid access token and the principal record, read on every
// call, still has IsPrivileged set.
type PrivilegeGate struct {
	verifier     TokenVerifier
	principals   PrincipalFinder
	logger       Logger
	activitySink ActivitySink
	clock        func() time.Time
}

func NewPrivilegeGate(verifier TokenVerifier, principals PrincipalFinder) *PrivilegeGate {
	return &PrivilegeGate{
		verifier:     verifier,
		principals:   principals,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		clock:        time.Now,
	}
}

func (g *PrivilegeGate) WithLogger(logger Logger) *PrivilegeGate {
	g.logger = resolveLogger(logger)
	return g
}

func (g *PrivilegeGate) WithActivitySink(sink ActivitySink) *PrivilegeGate {
	g.activitySink = normalizeActivitySink(sink)
	return g
}

func (g *PrivilegeGate) WithClock(clock func() time.Time) *PrivilegeGate {
	if clock != nil {
		g.clock = clock
	}
	return g
}

// Authorize returns the privileged principal behind raw. Every failure,
// whether the token is missing or rejected, the account disabled or the
// flag off, returns ErrAccessDenied.
func (g *PrivilegeGate) Authorize(ctx context.Context, raw string) (*Principal, error) {
	if raw == "" {
		return nil, g.deny(ctx, "missing_token", "", nil)
	}

	claims, err := g.verifier.Verify(raw, PurposeAccess, g.clock())
	if err != nil {
		reason, _ := RejectionReason(err)
		return nil, g.deny(ctx, "token_"+string(reason), "", err)
	}

	principal, err := g.principals.FindByID(ctx, claims.SubjectID)
	if err != nil || principal == nil {
		return nil, g.deny(ctx, "principal_lookup", claims.SubjectID, err)
	}

	if principal.Disabled {
		return nil, g.deny(ctx, "principal_disabled", principal.ID, nil)
	}

	if !principal.IsPrivileged {
		return nil, g.deny(ctx, "not_privileged", principal.ID, nil)
	}

	return principal, nil
}

// Guard runs fn only when Authorize succeeds. The principal is also
// attached to the context passed to fn.
func (g *PrivilegeGate) Guard(ctx context.Context, raw string, fn func(ctx context.Context, principal *Principal) error) error {
	principal, err := g.Authorize(ctx, raw)
	if err != nil {
		return err
	}
	return fn(WithPrincipalContext(ctx, principal), principal)
}

func (g *PrivilegeGate) deny(ctx context.Context, reason, userID string, cause error) error {
	args := []any{"reason", reason}
	if userID != "" {
		args = append(args, "user_id", userID)
	}
	if cause != nil {
		args = append(args, "error", cause)
	}
	g.logger.Info("privilege gate denied request", args...)

	event := ActivityEvent{
		EventType:  ActivityEventPrivilegeDenied,
		UserID:     userID,
		Metadata:   map[string]any{"reason": reason},
		OccurredAt: g.clock(),
	}
	if err := g.activitySink.Record(ctx, event); err != nil {
		g.logger.Warn("activity sink record error", "error", err)
	}

	return ErrAccessDenied
}
