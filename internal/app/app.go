// Package app builds the server object graph once and runs it. Nothing
// here is global, every component receives its dependencies explicitly.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	goerrors "github.com/goliatone/go-errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"golang.org/x/time/rate"

	gatekeeper "github.com/goliatone/go-gatekeeper"
	"github.com/goliatone/go-gatekeeper/config"
	"github.com/goliatone/go-gatekeeper/jobs"
	"github.com/goliatone/go-gatekeeper/middleware/ratelimit"
	"github.com/goliatone/go-gatekeeper/notifications"
)

var openSQLite = gatekeeper.OpenSQLite

type App struct {
	Config     *config.Config
	DB         *bun.DB
	Repos      gatekeeper.RepositoryManager
	Tokens     *gatekeeper.TokenService
	Principals *gatekeeper.PrincipalStore
	Auth       *gatekeeper.Authenticator
	Gate       *gatekeeper.PrivilegeGate
	Queue      *jobs.Queue
	Registry   *prometheus.Registry
	HTTP       *fiber.App

	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

type Option func(*options)

type options struct {
	db       *bun.DB
	mailer   notifications.Mailer
	clock    func() time.Time
	hashCost int
}

// WithDB uses db instead of opening the configured DSN
func WithDB(db *bun.DB) Option {
	return func(o *options) {
		o.db = db
	}
}

// WithMailer replaces the log mailer
func WithMailer(m notifications.Mailer) Option {
	return func(o *options) {
		o.mailer = m
	}
}

// WithHashCost sets the bcrypt cost for new passwords
func WithHashCost(cost int) Option {
	return func(o *options) {
		o.hashCost = cost
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// New opens storage, applies migrations and wires every component. A
// database opened here is closed again when wiring fails, one passed in
// WithDB stays with the caller.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	o := &options{clock: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	db := o.db
	if db == nil {
		if db, err = openSQLite(cfg.Database.DSN); err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				db.Close()
			}
		}()
	}

	if err := gatekeeper.Migrate(ctx, db); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "apply migrations")
	}

	authLogger := gatekeeper.NewSlogLogger(logger.With("component", "gatekeeper"))

	tokens, err := gatekeeper.NewTokenService(cfg, authLogger)
	if err != nil {
		return nil, err
	}

	repos := gatekeeper.NewRepositoryManager(db, gatekeeper.WithUsersClock(o.clock))
	if err := repos.Validate(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	queueOpts := []jobs.Option{
		jobs.WithLogger(logger.With("component", "jobs")),
		jobs.WithMetrics(jobs.NewCollector(registry)),
		jobs.WithClock(o.clock),
	}
	if cfg.Jobs.DeadLetters {
		queueOpts = append(queueOpts, jobs.WithDeadLetterSink(repos.DeadLetters()))
	}
	queue := jobs.New(cfg.Jobs.QueueConfig(), queueOpts...)

	if err := registerHandlers(queue, cfg, o, logger, authLogger); err != nil {
		return nil, err
	}

	sink := gatekeeper.NewJobActivitySink(queue)

	principals := gatekeeper.NewPrincipalStore(repos).
		WithLogger(authLogger).
		WithActivitySink(sink).
		WithClock(o.clock)
	if o.hashCost > 0 {
		principals.WithHashCost(o.hashCost)
	}

	auth := gatekeeper.NewAuthenticator(principals, tokens).
		WithLogger(authLogger).
		WithActivitySink(sink).
		WithClock(o.clock)

	gate := gatekeeper.NewPrivilegeGate(tokens, principals).
		WithLogger(authLogger).
		WithActivitySink(sink).
		WithClock(o.clock)

	limiter := ratelimit.New(ratelimit.Config{
		Rate:   rate.Limit(cfg.RateLimit.PerMinute / 60.0),
		Burst:  cfg.RateLimit.Burst,
		Logger: logger.With("component", "ratelimit"),
	})

	httpApp := fiber.New(fiber.Config{
		AppName:               "gatekeeper",
		DisableStartupMessage: true,
		ErrorHandler:          gatekeeper.NewErrorHandler(authLogger),
	})

	gatekeeper.NewHTTPController(auth, gate, cfg).
		WithLogger(authLogger).
		WithCredentialLimiter(limiter.Handler()).
		WithClock(o.clock).
		Register(httpApp)

	httpApp.Get(cfg.HTTP.MetricsPath, adaptor.HTTPHandler(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	))

	return &App{
		Config:     cfg,
		DB:         db,
		Repos:      repos,
		Tokens:     tokens,
		Principals: principals,
		Auth:       auth,
		Gate:       gate,
		Queue:      queue,
		Registry:   registry,
		HTTP:       httpApp,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

func registerHandlers(queue *jobs.Queue, cfg *config.Config, o *options, logger *slog.Logger, authLogger gatekeeper.Logger) error {
	renderer, err := notifications.NewRenderer()
	if err != nil {
		return err
	}

	mailer := o.mailer
	if mailer == nil {
		mailer = notifications.NewLogMailer(logger.With("component", "mailer"), cfg.Jobs.MailLatency)
	}

	notifications.NewHandlers(mailer, renderer, o.clock, logger.With("component", "notifications")).
		Register(queue)
	queue.Register(gatekeeper.KindActivityAudit, gatekeeper.NewActivityAuditHandler(authLogger))
	return nil
}

// Run starts the workers and the HTTP listener. It blocks until ctx is
// done or the listener fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	a.Queue.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http listening", slog.String("addr", a.Config.HTTP.Addr))
		errCh <- a.HTTP.Listen(a.Config.HTTP.Addr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		if runErr != nil {
			a.logger.Error("http listener stopped", slog.Any("error", runErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.HTTP.ShutdownTimeout)
	defer cancel()

	if err := a.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown stops accepting requests, drains the job queues and closes the
// database.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(a.HTTP.ShutdownWithContext(ctx))
	a.limiter.Stop()
	keep(a.Queue.Shutdown(ctx))
	keep(a.DB.Close())

	a.logger.Info("gatekeeper stopped")
	return firstErr
}
