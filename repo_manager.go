package gatekeeper

import (
	"context"
	"database/sql"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-gatekeeper/jobs"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/migrate"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	DeadLetters() *jobs.BunDeadLetterStore
}

type mngr struct {
	db          *bun.DB
	users       Users
	deadLetters *jobs.BunDeadLetterStore
}

func NewRepositoryManager(db *bun.DB, opts ...UsersOption) RepositoryManager {
	return &mngr{
		db:          db,
		users:       NewUsersRepository(db, opts...),
		deadLetters: jobs.NewBunDeadLetterStore(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return goerrors.New("repository users should be initialized", goerrors.CategoryInternal)
	}

	if m.deadLetters == nil {
		return goerrors.New("repository deadLetters should be initialized", goerrors.CategoryInternal)
	}

	return nil
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) DeadLetters() *jobs.BunDeadLetterStore {
	return m.deadLetters
}

// OpenSQLite opens a bun database on the sqlite driver picked by sqliteshim
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open database")
	}
	// sqlite serialises writers, a single connection also keeps :memory:
	// databases alive across queries
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to configure database")
	}
	return db, nil
}

// Migrate applies the embedded migrations that have not run yet
func Migrate(ctx context.Context, db *bun.DB) error {
	migrations := migrate.NewMigrations()
	if err := migrations.Discover(GetMigrationsFS()); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to discover migrations")
	}

	migrator := migrate.NewMigrator(db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize migrations")
	}

	if _, err := migrator.Migrate(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to apply migrations")
	}

	return nil
}
