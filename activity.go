package gatekeeper

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSignUp           ActivityEventType = "auth.signup"
	ActivityEventLoginSuccess     ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure     ActivityEventType = "auth.login.failure"
	ActivityEventTokenRefreshed   ActivityEventType = "auth.token.refreshed"
	ActivityEventSignOut          ActivityEventType = "auth.signout"
	ActivityEventPrivilegeDenied  ActivityEventType = "auth.privilege.denied"
	ActivityEventPrivilegeChanged ActivityEventType = "auth.privilege.changed"
	ActivityEventStatusChanged    ActivityEventType = "auth.status.changed"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType `json:"event_type" cbor:"event_type"`
	UserID     string            `json:"user_id,omitempty" cbor:"user_id,omitempty"`
	Email      string            `json:"email,omitempty" cbor:"email,omitempty"`
	Username   string            `json:"username,omitempty" cbor:"username,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty" cbor:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at" cbor:"occurred_at"`
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
