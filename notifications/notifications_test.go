package notifications_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-gatekeeper/jobs"
	"github.com/goliatone/go-gatekeeper/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, msg notifications.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type bogusPayload struct{}

func (bogusPayload) Kind() string { return notifications.KindWelcomeEmail }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHandlers(t *testing.T, mailer notifications.Mailer) *notifications.Handlers {
	renderer, err := notifications.NewRenderer()
	require.NoError(t, err)
	clock := func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return notifications.NewHandlers(mailer, renderer, clock, quietLogger())
}

func TestHandleWelcomeEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("renders and sends", func(t *testing.T) {
		mailer := new(MockMailer)
		h := newHandlers(t, mailer)

		mailer.On("Send", ctx, mock.MatchedBy(func(msg notifications.Message) bool {
			return msg.To == "a@b.co" &&
				msg.Subject == "Welcome" &&
				strings.Contains(msg.Body, "Hi alice") &&
				strings.Contains(msg.Body, "a@b.co")
		})).Return(nil).Once()

		err := h.HandleWelcomeEmail(ctx, jobs.Job{
			ID:      "job-1",
			Queue:   jobs.QueueEmail,
			Payload: notifications.WelcomeEmail{UserID: "u1", Email: "a@b.co", Username: "alice"},
		})

		require.NoError(t, err)
		mailer.AssertExpectations(t)
	})

	t.Run("unexpected payload is permanent", func(t *testing.T) {
		mailer := new(MockMailer)
		h := newHandlers(t, mailer)

		err := h.HandleWelcomeEmail(ctx, jobs.Job{Payload: bogusPayload{}})

		require.Error(t, err)
		assert.True(t, jobs.IsPermanent(err))
		mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("missing recipient is permanent", func(t *testing.T) {
		mailer := new(MockMailer)
		h := newHandlers(t, mailer)

		err := h.HandleWelcomeEmail(ctx, jobs.Job{Payload: &notifications.WelcomeEmail{UserID: "u1"}})

		assert.True(t, jobs.IsPermanent(err))
	})

	t.Run("delivery failure is retryable", func(t *testing.T) {
		mailer := new(MockMailer)
		h := newHandlers(t, mailer)

		mailer.On("Send", ctx, mock.Anything).Return(errors.New("connection refused")).Once()

		err := h.HandleWelcomeEmail(ctx, jobs.Job{
			Payload: notifications.WelcomeEmail{UserID: "u1", Email: "a@b.co", Username: "alice"},
		})

		require.Error(t, err)
		assert.False(t, jobs.IsPermanent(err))
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestHandleLoginAlert(t *testing.T) {
	ctx := context.Background()
	mailer := new(MockMailer)
	h := newHandlers(t, mailer)

	at := time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)
	mailer.On("Send", ctx, mock.MatchedBy(func(msg notifications.Message) bool {
		return msg.To == "a@b.co" &&
			strings.Contains(msg.Body, at.Format(time.RFC1123))
	})).Return(nil).Once()

	err := h.HandleLoginAlert(ctx, jobs.Job{
		Queue:   jobs.QueueNotifications,
		Payload: notifications.LoginAlert{UserID: "u1", Email: "a@b.co", Username: "alice", SignedInAt: at},
	})

	require.NoError(t, err)
	mailer.AssertExpectations(t)
}

func TestLogMailer_HonoursContext(t *testing.T) {
	mailer := notifications.NewLogMailer(quietLogger(), time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := mailer.Send(ctx, notifications.Message{To: "a@b.co"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandlers_ThroughQueue(t *testing.T) {
	mailer := new(MockMailer)
	h := newHandlers(t, mailer)

	q := jobs.New(jobs.Config{}, jobs.WithLogger(quietLogger()))
	h.Register(q)

	mailer.On("Send", mock.Anything, mock.Anything).Return(nil).Twice()

	ctx := context.Background()
	q.Start(ctx)
	require.NoError(t, q.Enqueue(jobs.QueueEmail, notifications.WelcomeEmail{Email: "a@b.co", Username: "alice"}))
	require.NoError(t, q.Enqueue(jobs.QueueNotifications, notifications.LoginAlert{Email: "a@b.co", Username: "alice"}))
	require.NoError(t, q.Shutdown(ctx))

	mailer.AssertNumberOfCalls(t, "Send", 2)
}
