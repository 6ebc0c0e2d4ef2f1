// Package jobs runs deferred work outside the request path. Work items are
// dispatched to a fixed set of named queues, each drained by its own pool
// of workers.
package jobs

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// QueueName identifies one of the fixed queues
type QueueName string

const (
	QueueEmail         QueueName = "email"
	QueueNotifications QueueName = "notifications"
	QueueBackground    QueueName = "background-tasks"
)

// Queues lists every queue a Queue serves
var Queues = []QueueName{QueueEmail, QueueNotifications, QueueBackground}

// Payload is the unit of work carried by a job. Kind selects the handler.
type Payload interface {
	Kind() string
}

// Job is a payload in flight
type Job struct {
	ID         string
	Queue      QueueName
	Payload    Payload
	Attempt    int
	EnqueuedAt time.Time
}

// Handler executes a job. Returning an error marked with Permanent stops
// any further attempt.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job Job) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, job Job) error {
	return f(ctx, job)
}

var (
	ErrUnknownQueue = goerrors.New("unknown job queue", goerrors.CategoryBadInput).
		WithTextCode("UNKNOWN_QUEUE")

	ErrQueueFull = goerrors.New("job queue is full", goerrors.CategoryRateLimit).
		WithTextCode("QUEUE_FULL")

	ErrQueueClosed = goerrors.New("job queue is shut down", goerrors.CategoryOperation).
		WithTextCode("QUEUE_CLOSED")

	ErrNoHandler = goerrors.New("no handler registered for job kind", goerrors.CategoryInternal).
		WithTextCode("NO_HANDLER")

	ErrNilPayload = goerrors.New("job payload must not be nil", goerrors.CategoryBadInput).
		WithTextCode("NIL_PAYLOAD")
)

type permanentError struct {
	cause error
}

func (e permanentError) Error() string {
	if e.cause == nil {
		return "permanent error"
	}
	return e.cause.Error()
}

func (e permanentError) Unwrap() error {
	return e.cause
}

// Permanent marks an error as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{cause: err}
}

// IsPermanent reports whether err was explicitly marked as non-retryable.
func IsPermanent(err error) bool {
	var target permanentError
	return goerrors.As(err, &target)
}
