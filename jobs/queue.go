package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

const (
	defaultBuffer       = 256
	defaultWorkers      = 1
	defaultRetryInitial = 500 * time.Millisecond
	defaultRetryMax     = 30 * time.Second
)

// Config controls queue sizing and the failure policy. MaxAttempts of one
// (the default) drops a failed job after logging it. Larger values retry
// with exponential backoff until the budget is spent.
type Config struct {
	Buffer       int
	Workers      map[QueueName]int
	MaxAttempts  int
	RetryInitial time.Duration
	RetryMax     time.Duration
}

func (c Config) normalized() Config {
	if c.Buffer <= 0 {
		c.Buffer = defaultBuffer
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = defaultRetryInitial
	}
	if c.RetryMax <= 0 {
		c.RetryMax = defaultRetryMax
	}
	workers := make(map[QueueName]int, len(Queues))
	for _, name := range Queues {
		n := c.Workers[name]
		if n <= 0 {
			n = defaultWorkers
		}
		workers[name] = n
	}
	c.Workers = workers
	return c
}

// Queue dispatches jobs to registered handlers. Enqueue never waits on a
// handler. Items within one queue run in enqueue order when that queue has
// a single worker.
type Queue struct {
	cfg         Config
	logger      *slog.Logger
	metrics     Recorder
	deadLetters DeadLetterSink
	clock       func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
	channels map[QueueName]chan Job
	started  bool
	closed   bool

	wg sync.WaitGroup
}

// Option configures a Queue
type Option func(*Queue)

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

func WithMetrics(m Recorder) Option {
	return func(q *Queue) {
		if m != nil {
			q.metrics = m
		}
	}
}

// WithDeadLetterSink records jobs that exhausted their attempts
func WithDeadLetterSink(s DeadLetterSink) Option {
	return func(q *Queue) {
		q.deadLetters = s
	}
}

func WithClock(clock func() time.Time) Option {
	return func(q *Queue) {
		if clock != nil {
			q.clock = clock
		}
	}
}

// New creates a Queue with one buffered channel per queue name
func New(cfg Config, opts ...Option) *Queue {
	cfg = cfg.normalized()
	q := &Queue{
		cfg:      cfg,
		logger:   slog.Default(),
		metrics:  nopRecorder{},
		clock:    time.Now,
		handlers: make(map[string]Handler),
		channels: make(map[QueueName]chan Job, len(Queues)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	for _, name := range Queues {
		q.channels[name] = make(chan Job, cfg.Buffer)
	}
	return q
}

// Register binds a handler to a payload kind. Registering twice replaces
// the previous handler.
func (q *Queue) Register(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Enqueue schedules payload on queue and returns without waiting for it to
// run. A full buffer is reported as ErrQueueFull instead of blocking.
func (q *Queue) Enqueue(queue QueueName, payload Payload) error {
	if payload == nil {
		return ErrNilPayload
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	ch, ok := q.channels[queue]
	if !ok {
		return ErrUnknownQueue.Clone().WithMetadata(map[string]any{
			"queue": string(queue),
		})
	}

	job := Job{
		ID:         uuid.NewString(),
		Queue:      queue,
		Payload:    payload,
		EnqueuedAt: q.clock(),
	}

	select {
	case ch <- job:
		q.metrics.JobEnqueued(string(queue), payload.Kind())
		return nil
	default:
		q.metrics.JobRejected(string(queue), payload.Kind())
		q.logger.Warn("job queue full, rejecting job",
			slog.String("queue", string(queue)),
			slog.String("kind", payload.Kind()),
		)
		return ErrQueueFull
	}
}

// Pending returns the number of jobs waiting on queue
func (q *Queue) Pending(queue QueueName) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.channels[queue])
}

// Start launches the workers. Handlers run with a context that outlives
// ctx so in-flight jobs finish, while retry waits stop once ctx is done.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.closed {
		return
	}
	q.started = true

	for _, name := range Queues {
		ch := q.channels[name]
		for i := 0; i < q.cfg.Workers[name]; i++ {
			q.wg.Add(1)
			go q.work(ctx, name, i, ch)
		}
	}

	q.logger.Info("job queue started",
		slog.Int("buffer", q.cfg.Buffer),
		slog.Int("max_attempts", q.cfg.MaxAttempts),
	)
}

// Shutdown stops accepting jobs and waits for queued ones to finish. It
// returns ctx.Err() if ctx ends first.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	for _, ch := range q.channels {
		close(ch)
	}
	q.mu.Unlock()

	if !started {
		for name, ch := range q.channels {
			if n := len(ch); n > 0 {
				q.logger.Warn("job queue shut down before start, dropping jobs",
					slog.String("queue", string(name)),
					slog.Int("count", n),
				)
			}
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("job queue drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) work(ctx context.Context, name QueueName, id int, ch <-chan Job) {
	defer q.wg.Done()

	handlerCtx := context.WithoutCancel(ctx)
	for job := range ch {
		q.process(ctx, handlerCtx, job)
	}

	q.logger.Debug("job worker stopped",
		slog.String("queue", string(name)),
		slog.Int("worker", id),
	)
}

func (q *Queue) handler(kind string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[kind]
	return h, ok && h != nil
}

func (q *Queue) process(ctx, handlerCtx context.Context, job Job) {
	kind := job.Payload.Kind()
	start := q.clock()

	h, ok := q.handler(kind)
	if !ok {
		err := ErrNoHandler.Clone().WithMetadata(map[string]any{"kind": kind})
		q.fail(handlerCtx, job, err, start)
		return
	}

	err := q.attempt(ctx, handlerCtx, h, &job)
	if err != nil {
		q.fail(handlerCtx, job, err, start)
		return
	}

	q.metrics.JobCompleted(string(job.Queue), kind, q.clock().Sub(start))
	q.logger.Debug("job completed",
		slog.String("job_id", job.ID),
		slog.String("queue", string(job.Queue)),
		slog.String("kind", kind),
		slog.Int("attempts", job.Attempt),
	)
}

func (q *Queue) attempt(ctx, handlerCtx context.Context, h Handler, job *Job) error {
	run := func() (struct{}, error) {
		job.Attempt++
		err := safeHandle(handlerCtx, h, *job)
		if err == nil {
			return struct{}{}, nil
		}
		if IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		if job.Attempt < q.cfg.MaxAttempts {
			q.metrics.JobRetried(string(job.Queue), job.Payload.Kind())
			q.logger.Warn("job attempt failed, retrying",
				slog.String("job_id", job.ID),
				slog.String("queue", string(job.Queue)),
				slog.Int("attempt", job.Attempt),
				slog.String("error", err.Error()),
			)
		}
		return struct{}{}, err
	}

	if q.cfg.MaxAttempts <= 1 {
		_, err := run()
		return unwrapPermanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.RetryInitial
	b.MaxInterval = q.cfg.RetryMax

	_, err := backoff.Retry(ctx, run,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(q.cfg.MaxAttempts)),
	)
	return unwrapPermanent(err)
}

func unwrapPermanent(err error) error {
	var perr *backoff.PermanentError
	if goerrors.As(err, &perr) {
		return perr.Unwrap()
	}
	return err
}

func safeHandle(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("job handler panic: %v", r))
		}
	}()
	return h.Handle(ctx, job)
}

func (q *Queue) fail(ctx context.Context, job Job, err error, start time.Time) {
	kind := job.Payload.Kind()
	q.metrics.JobFailed(string(job.Queue), kind, q.clock().Sub(start))

	q.logger.Error("job failed, dropping",
		slog.String("job_id", job.ID),
		slog.String("queue", string(job.Queue)),
		slog.String("kind", kind),
		slog.Int("attempts", job.Attempt),
		slog.Bool("permanent", IsPermanent(err)),
		slog.String("error", err.Error()),
	)
	q.logger.Debug("failed job payload",
		slog.String("job_id", job.ID),
		slog.String("payload", print.MaybePrettyJSON(job.Payload)),
	)

	if q.deadLetters == nil {
		return
	}

	letter := DeadLetter{
		ID:        job.ID,
		Queue:     job.Queue,
		Kind:      kind,
		Attempts:  job.Attempt,
		LastError: err.Error(),
		Payload:   job.Payload,
		FailedAt:  q.clock(),
	}
	if dlErr := q.deadLetters.Record(ctx, letter); dlErr != nil {
		q.logger.Error("failed to record dead letter",
			slog.String("job_id", job.ID),
			slog.String("error", dlErr.Error()),
		)
	}
}
