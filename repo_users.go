package gatekeeper

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Users interface {
	repository.Repository[*User]

	GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*User, error)
	GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*User, error)

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)

	SetPrivileged(ctx context.Context, id uuid.UUID, privileged bool) error
	SetPrivilegedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, privileged bool) error
	SetDisabled(ctx context.Context, id uuid.UUID, disabled bool) error
	SetDisabledTx(ctx context.Context, tx bun.IDB, id uuid.UUID, disabled bool) error

	TrackAttemptedLogin(ctx context.Context, user *User) error
	TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error
}

type users struct {
	repository.Repository[*User]
	db    *bun.DB
	clock func() time.Time
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

type UsersOption func(*users)

// WithUsersClock overrides the clock used for login tracking timestamps
func WithUsersClock(clock func() time.Time) UsersOption {
	return func(u *users) {
		if clock != nil {
			u.clock = clock
		}
	}
}

func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	repoUsers := &users{
		Repository: repo,
		db:         db,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoUsers)
		}
	}

	return repoUsers
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	prepareUserDefaults(user)
	return a.Repository.CreateTx(ctx, tx, user)
}

func (a *users) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

// GetByIdentifierTx looks a user up by id when identifier is a UUID and by
// email otherwise.
func (a *users) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	column, value := resolveUserIdentifier(identifier)
	if value == "" {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"identifier": identifier,
			})
	}

	record := &User{}
	q := tx.NewSelect().Model(record)

	for _, c := range criteria {
		q.Apply(c)
	}

	err := q.
		Where(fmt.Sprintf("?TableAlias.%s = ?", column), value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"identifier": identifier,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) SetPrivileged(ctx context.Context, id uuid.UUID, privileged bool) error {
	return a.SetPrivilegedTx(ctx, a.db, id, privileged)
}

func (a *users) SetPrivilegedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, privileged bool) error {
	return a.setFlagTx(ctx, tx, id, "is_privileged", privileged)
}

func (a *users) SetDisabled(ctx context.Context, id uuid.UUID, disabled bool) error {
	return a.SetDisabledTx(ctx, a.db, id, disabled)
}

func (a *users) SetDisabledTx(ctx context.Context, tx bun.IDB, id uuid.UUID, disabled bool) error {
	return a.setFlagTx(ctx, tx, id, "is_disabled", disabled)
}

func (a *users) setFlagTx(ctx context.Context, tx bun.IDB, id uuid.UUID, column string, value bool) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("? = ?", bun.Ident(column), value).
		Set("updated_at = ?", a.clock().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update "+column)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	return a.TrackSuccessfulLoginTx(ctx, a.db, user)
}

func (a *users) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	// NOTE: the ORM update skips zero values, so the reset of
	// login_attempt_at and login_attempts goes through raw SQL.
	loggedInAt := a.clock().UTC()
	_, err := tx.NewRaw(`
		UPDATE "users"
		SET
			"loggedin_at" = ?,
			"login_attempt_at" = NULL,
			"login_attempts" = 0
		WHERE
			"id" = ?;
	`, loggedInAt, user.ID).Exec(ctx)

	return err
}

func (a *users) TrackAttemptedLogin(ctx context.Context, user *User) error {
	return a.TrackAttemptedLoginTx(ctx, a.db, user)
}

func (a *users) TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	now := a.clock().UTC()
	_, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("login_attempts = ?", user.LoginAttempts+1).
		Set("login_attempt_at = ?", now).
		Where("id = ?", user.ID).
		Exec(ctx)

	return err
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	record.Email = normalizeEmail(record.Email)
	record.Username = getUsername(record.Username, record.Email)

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func getUsername(username, email string) string {
	if username != "" {
		return username
	}

	if strings.Contains(email, "@") {
		username = strings.Split(email, "@")[0]
	}

	return username
}

func resolveUserIdentifier(identifier string) (column, value string) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return "", ""
	}

	if _, err := uuid.Parse(trimmed); err == nil {
		return "id", trimmed
	}

	return "email", normalizeEmail(trimmed)
}
