package gatekeeper

import (
	"context"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-gatekeeper/jobs"
	"github.com/goliatone/go-gatekeeper/notifications"
)

// KindActivityAudit is the job kind carrying an ActivityEvent to the audit log
const KindActivityAudit = "activity.audit"

// ActivityAudit wraps an ActivityEvent as a background job
type ActivityAudit struct {
	Event ActivityEvent `json:"event" cbor:"event"`
}

func (ActivityAudit) Kind() string { return KindActivityAudit }

// Enqueuer is the part of jobs.Queue the sink needs
type Enqueuer interface {
	Enqueue(queue jobs.QueueName, payload jobs.Payload) error
}

// JobActivitySink turns activity events into deferred jobs. Every event is
// audited on the background queue. Sign-ups also schedule a welcome email
// and successful sign-ins a login alert.
type JobActivitySink struct {
	queue Enqueuer
}

func NewJobActivitySink(queue Enqueuer) *JobActivitySink {
	return &JobActivitySink{queue: queue}
}

func (s *JobActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	var errs []error

	if err := s.queue.Enqueue(jobs.QueueBackground, ActivityAudit{Event: event}); err != nil {
		errs = append(errs, err)
	}

	switch event.EventType {
	case ActivityEventSignUp:
		if err := s.queue.Enqueue(jobs.QueueEmail, notifications.WelcomeEmail{
			UserID:   event.UserID,
			Email:    event.Email,
			Username: event.Username,
		}); err != nil {
			errs = append(errs, err)
		}
	case ActivityEventLoginSuccess:
		if err := s.queue.Enqueue(jobs.QueueNotifications, notifications.LoginAlert{
			UserID:     event.UserID,
			Email:      event.Email,
			Username:   event.Username,
			SignedInAt: event.OccurredAt,
		}); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// NewActivityAuditHandler writes audited events to logger
func NewActivityAuditHandler(logger Logger) jobs.Handler {
	logger = resolveLogger(logger)
	return jobs.HandlerFunc(func(ctx context.Context, job jobs.Job) error {
		var audit ActivityAudit
		switch v := job.Payload.(type) {
		case ActivityAudit:
			audit = v
		case *ActivityAudit:
			if v == nil {
				return jobs.Permanent(goerrors.New("activity audit payload is nil", goerrors.CategoryBadInput))
			}
			audit = *v
		default:
			return jobs.Permanent(goerrors.New("unexpected activity audit payload", goerrors.CategoryBadInput))
		}

		logger.Info("activity",
			"event_type", audit.Event.EventType,
			"user_id", audit.Event.UserID,
			"occurred_at", audit.Event.OccurredAt,
			"metadata", audit.Event.Metadata,
		)
		return nil
	})
}

var _ ActivitySink = (*JobActivitySink)(nil)
