package gatekeeper

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MaxLoginAttempts is the maximun number of attempts a user gets
// in a period
var MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
var CoolDownPeriod = 24 * time.Hour

// PrincipalStore is the bun backed PrincipalRepository. It owns password
// hashing, email uniqueness and login throttling.
type PrincipalStore struct {
	repo      RepositoryManager
	logger    Logger
	hashCost  int
	hashedIDs bool
	clock     func() time.Time
	sink      ActivitySink
}

var _ PrincipalRepository = (*PrincipalStore)(nil)

// NewPrincipalStore will create a new PrincipalStore
func NewPrincipalStore(repo RepositoryManager) *PrincipalStore {
	return &PrincipalStore{
		repo:     repo,
		logger:   defLogger{},
		hashCost: passwordHashCost(),
		clock:    time.Now,
		sink:     noopActivitySink{},
	}
}

func (s *PrincipalStore) WithLogger(l Logger) *PrincipalStore {
	s.logger = resolveLogger(l)
	return s
}

// WithActivitySink receives privilege changes
func (s *PrincipalStore) WithActivitySink(sink ActivitySink) *PrincipalStore {
	s.sink = normalizeActivitySink(sink)
	return s
}

// WithHashCost overrides the bcrypt cost
func (s *PrincipalStore) WithHashCost(cost int) *PrincipalStore {
	if cost > 0 {
		s.hashCost = cost
	}
	return s
}

// WithHashedIDs derives principal ids from the email address
func (s *PrincipalStore) WithHashedIDs(enabled bool) *PrincipalStore {
	s.hashedIDs = enabled
	return s
}

func (s *PrincipalStore) WithClock(clock func() time.Time) *PrincipalStore {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// FindByID loads the current principal record. Absent principals yield
// ErrPrincipalNotFound.
func (s *PrincipalStore) FindByID(ctx context.Context, id string) (*Principal, error) {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, ErrPrincipalNotFound
	}

	user, err := s.repo.Users().GetByIdentifier(ctx, uid.String())
	if err != nil {
		if isNotFound(err) {
			return nil, ErrPrincipalNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve principal")
	}

	return user.ToPrincipal(), nil
}

// Authenticate will find the user, compare to the password, and return the principal
func (s *PrincipalStore) Authenticate(ctx context.Context, email, password string) (*Principal, error) {
	user, err := s.repo.Users().GetByIdentifier(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user during verification")
	}

	if user.Disabled {
		return nil, ErrPrincipalDisabled
	}

	if user.LoginAttemptAt != nil && s.clock().Sub(*user.LoginAttemptAt) > CoolDownPeriod {
		user.LoginAttempts = 0
	}

	//if we have too many attempts in the given window, cool off!
	if user.LoginAttempts > MaxLoginAttempts {
		return nil, ErrTooManyLoginAttempts
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if err2 := s.repo.Users().TrackAttemptedLogin(ctx, user); err2 != nil {
			return nil, goerrors.Wrap(err2, goerrors.CategoryInternal, "failed to track login attempt")
		}
		return nil, ErrInvalidCredentials
	}

	if err := s.repo.Users().TrackSuccessfulLogin(ctx, user); err != nil {
		s.logger.Error("failed to track successful login", "error", err)
	}

	return user.ToPrincipal(), nil
}

// Create registers a new principal. Duplicate emails yield ErrEmailTaken.
func (s *PrincipalStore) Create(ctx context.Context, email, password string) (*Principal, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during user registration")
	default:
	}

	user := &User{Email: normalizeEmail(email)}

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := s.repo.Users().GetByIdentifierTx(ctx, tx, user.Email)
		if err == nil {
			return ErrEmailTaken
		}
		if !isNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
		}

		hash, err := HashPasswordCost(password, s.hashCost)
		if err != nil {
			return err
		}
		user.PasswordHash = hash

		if s.hashedIDs {
			if id, err := hashid.NewUUID(user.Email); err == nil {
				user.ID = id
			}
		}

		if _, err := s.repo.Users().RegisterTx(ctx, tx, user); err != nil {
			if isUniqueViolation(err) {
				return ErrEmailTaken
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	return user.ToPrincipal(), nil
}

// SetPrivileged flips the privilege flag of the principal matching
// identifier (id or email). This is the administrative path, the core
// only ever reads the flag.
func (s *PrincipalStore) SetPrivileged(ctx context.Context, identifier string, privileged bool) (*Principal, error) {
	out, err := s.update(ctx, identifier, func(ctx context.Context, tx bun.Tx, user *User) error {
		if err := s.repo.Users().SetPrivilegedTx(ctx, tx, user.ID, privileged); err != nil {
			return err
		}
		user.IsPrivileged = privileged
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, ActivityEventPrivilegeChanged, out, map[string]any{"is_privileged": privileged})
	return out, nil
}

// SetDisabled turns the account off or back on. A disabled principal can
// no longer sign in, refresh or pass the PrivilegeGate.
func (s *PrincipalStore) SetDisabled(ctx context.Context, identifier string, disabled bool) (*Principal, error) {
	out, err := s.update(ctx, identifier, func(ctx context.Context, tx bun.Tx, user *User) error {
		if err := s.repo.Users().SetDisabledTx(ctx, tx, user.ID, disabled); err != nil {
			return err
		}
		user.Disabled = disabled
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, ActivityEventStatusChanged, out, map[string]any{"disabled": disabled})
	return out, nil
}

func (s *PrincipalStore) update(ctx context.Context, identifier string, apply func(context.Context, bun.Tx, *User) error) (*Principal, error) {
	var out *Principal
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := s.repo.Users().GetByIdentifierTx(ctx, tx, identifier)
		if err != nil {
			if isNotFound(err) {
				return ErrPrincipalNotFound
			}
			return err
		}

		if err := apply(ctx, tx, user); err != nil {
			return err
		}

		out = user.ToPrincipal()
		return nil
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update principal")
	}
	return out, nil
}

func (s *PrincipalStore) emit(ctx context.Context, eventType ActivityEventType, principal *Principal, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		UserID:     principal.ID,
		Email:      principal.Email,
		Username:   principal.Username,
		Metadata:   metadata,
		OccurredAt: s.clock(),
	}
	if err := s.sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error", "error", err)
	}
}

func isNotFound(err error) bool {
	return repository.IsRecordNotFound(err) || goerrors.IsNotFound(err)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "UNIQUE")
}
