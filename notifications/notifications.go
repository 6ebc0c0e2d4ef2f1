// Package notifications holds the job payloads and handlers for the
// messages sent after session events.
package notifications

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/template/django/v3"
	"github.com/goliatone/go-gatekeeper/jobs"
)

const (
	KindWelcomeEmail = "notifications.welcome_email"
	KindLoginAlert   = "notifications.login_alert"
)

//go:embed templates/*.html
var templatesFS embed.FS

// WelcomeEmail is enqueued on the email queue after sign-up
type WelcomeEmail struct {
	UserID   string `json:"user_id" cbor:"user_id"`
	Email    string `json:"email" cbor:"email"`
	Username string `json:"username" cbor:"username"`
}

func (WelcomeEmail) Kind() string { return KindWelcomeEmail }

// LoginAlert is enqueued on the notifications queue after sign-in
type LoginAlert struct {
	UserID     string    `json:"user_id" cbor:"user_id"`
	Email      string    `json:"email" cbor:"email"`
	Username   string    `json:"username" cbor:"username"`
	SignedInAt time.Time `json:"signed_in_at" cbor:"signed_in_at"`
}

func (LoginAlert) Kind() string { return KindLoginAlert }

// Message is an outgoing notification
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages. Implementations may block for the duration of
// a network call and should honour ctx.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Renderer renders message bodies from the embedded templates
type Renderer struct {
	engine *django.Engine
}

func NewRenderer() (*Renderer, error) {
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		return nil, err
	}
	engine := django.NewFileSystem(http.FS(sub), ".html")
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("load notification templates: %w", err)
	}
	return &Renderer{engine: engine}, nil
}

func (r *Renderer) Render(name string, data map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := r.engine.Render(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Handlers executes notification jobs
type Handlers struct {
	mailer   Mailer
	renderer *Renderer
	clock    func() time.Time
	logger   *slog.Logger
}

func NewHandlers(mailer Mailer, renderer *Renderer, clock func() time.Time, logger *slog.Logger) *Handlers {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		mailer:   mailer,
		renderer: renderer,
		clock:    clock,
		logger:   logger,
	}
}

// Register binds every notification kind on q
func (h *Handlers) Register(q *jobs.Queue) {
	q.Register(KindWelcomeEmail, jobs.HandlerFunc(h.HandleWelcomeEmail))
	q.Register(KindLoginAlert, jobs.HandlerFunc(h.HandleLoginAlert))
}

// HandleWelcomeEmail sends the sign-up welcome message
func (h *Handlers) HandleWelcomeEmail(ctx context.Context, job jobs.Job) error {
	if h == nil || h.mailer == nil || h.renderer == nil {
		return jobs.Permanent(fmt.Errorf("notification handlers are not configured"))
	}

	payload, err := decodeWelcome(job.Payload)
	if err != nil {
		return jobs.Permanent(err)
	}

	body, err := h.renderer.Render("welcome", map[string]any{
		"username": payload.Username,
		"email":    payload.Email,
	})
	if err != nil {
		return jobs.Permanent(err)
	}

	return h.send(ctx, job, Message{
		To:      payload.Email,
		Subject: "Welcome",
		Body:    body,
	})
}

// HandleLoginAlert sends the new sign-in notice
func (h *Handlers) HandleLoginAlert(ctx context.Context, job jobs.Job) error {
	if h == nil || h.mailer == nil || h.renderer == nil {
		return jobs.Permanent(fmt.Errorf("notification handlers are not configured"))
	}

	payload, err := decodeLoginAlert(job.Payload)
	if err != nil {
		return jobs.Permanent(err)
	}

	at := payload.SignedInAt
	if at.IsZero() {
		at = h.clock()
	}

	body, err := h.renderer.Render("login_alert", map[string]any{
		"username":     payload.Username,
		"email":        payload.Email,
		"signed_in_at": at.UTC().Format(time.RFC1123),
	})
	if err != nil {
		return jobs.Permanent(err)
	}

	return h.send(ctx, job, Message{
		To:      payload.Email,
		Subject: "New sign-in to your account",
		Body:    body,
	})
}

func (h *Handlers) send(ctx context.Context, job jobs.Job, msg Message) error {
	start := h.clock()
	if err := h.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s: %w", job.Payload.Kind(), err)
	}
	h.logger.Info("notification sent",
		slog.String("job_id", job.ID),
		slog.String("kind", job.Payload.Kind()),
		slog.Duration("elapsed", h.clock().Sub(start)),
	)
	return nil
}

func decodeWelcome(p jobs.Payload) (WelcomeEmail, error) {
	switch v := p.(type) {
	case WelcomeEmail:
		return validateRecipient(v, v.Email)
	case *WelcomeEmail:
		if v == nil {
			return WelcomeEmail{}, fmt.Errorf("welcome email payload is nil")
		}
		return validateRecipient(*v, v.Email)
	default:
		return WelcomeEmail{}, fmt.Errorf("unexpected payload %T for %s", p, KindWelcomeEmail)
	}
}

func decodeLoginAlert(p jobs.Payload) (LoginAlert, error) {
	switch v := p.(type) {
	case LoginAlert:
		return validateRecipient(v, v.Email)
	case *LoginAlert:
		if v == nil {
			return LoginAlert{}, fmt.Errorf("login alert payload is nil")
		}
		return validateRecipient(*v, v.Email)
	default:
		return LoginAlert{}, fmt.Errorf("unexpected payload %T for %s", p, KindLoginAlert)
	}
}

func validateRecipient[T any](v T, email string) (T, error) {
	if email == "" {
		var zero T
		return zero, fmt.Errorf("notification recipient is empty")
	}
	return v, nil
}
