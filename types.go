package gatekeeper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Logger takes a message followed by key/value pairs
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Principal is the identity record the core reads for privilege checks
type Principal struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	IsPrivileged bool       `json:"is_privileged"`
	Disabled     bool       `json:"disabled"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// AuthResult is what an IdentityProvider returns after a successful
// sign-in, sign-up or refresh
type AuthResult struct {
	Principal *Principal `json:"principal"`
	Tokens    TokenPair  `json:"tokens"`
}

// PrincipalRepository owns principal records. Implementations enforce
// email uniqueness and password hashing.
type PrincipalRepository interface {
	FindByID(ctx context.Context, id string) (*Principal, error)
	Authenticate(ctx context.Context, email, password string) (*Principal, error)
	Create(ctx context.Context, email, password string) (*Principal, error)
}

// IdentityProvider performs the identity checks Sessions delegates to.
// CurrentUser returns nil without error when nobody is signed in.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*AuthResult, error)
	SignUp(ctx context.Context, email, password string) (*AuthResult, error)
	SignOut(ctx context.Context) error
	CurrentUser(ctx context.Context) (*Principal, error)
	Refresh(ctx context.Context, refreshToken string) (*AuthResult, error)
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	GetAccessTokenLifetime() time.Duration
	GetRefreshTokenLifetime() time.Duration
	GetMinPasswordLength() int
	GetTokenLookup() string
	GetAuthScheme() string
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Println("[ERR] GATEKEEPER " + line(msg, args))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Println("[WRN] GATEKEEPER " + line(msg, args))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Println("[INF] GATEKEEPER " + line(msg, args))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Println("[DBG] GATEKEEPER " + line(msg, args))
}

// line renders key/value args after msg. A trailing key without a value
// is printed as is.
func line(msg string, args []any) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(msg, "\n"))
	for i := 0; i < len(args); i += 2 {
		b.WriteByte(' ')
		if i+1 >= len(args) {
			fmt.Fprint(&b, args[i])
			break
		}
		fmt.Fprintf(&b, "%v=%v", args[i], args[i+1])
	}
	return b.String()
}

// SlogLogger adapts a slog.Logger. The format argument is used as the
// message and args are treated as key/value pairs.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger returns a Logger backed by l, or slog.Default when l is nil
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *SlogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *SlogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *SlogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

// Slog exposes the wrapped logger
func (s *SlogLogger) Slog() *slog.Logger {
	return s.l
}

func resolveLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
