package notifications

import (
	"context"
	"log/slog"
	"time"
)

// LogMailer writes messages to the log after a simulated delivery delay
type LogMailer struct {
	logger  *slog.Logger
	latency time.Duration
}

func NewLogMailer(logger *slog.Logger, latency time.Duration) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger, latency: latency}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if m.latency > 0 {
		timer := time.NewTimer(m.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	m.logger.Info("mail delivered",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("body_bytes", len(msg.Body)),
	)
	return nil
}

var _ Mailer = (*LogMailer)(nil)
