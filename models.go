package gatekeeper

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the user model
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email          string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Username       string     `bun:"username,notnull" json:"username,omitempty"`
	PasswordHash   string     `bun:"password_hash,notnull" json:"-"`
	IsPrivileged   bool       `bun:"is_privileged,notnull" json:"is_privileged"`
	Disabled       bool       `bun:"is_disabled,notnull" json:"is_disabled"`
	LoginAttempts  int        `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// ToPrincipal projects the record onto the fields the core reads
func (u *User) ToPrincipal() *Principal {
	if u == nil {
		return nil
	}
	return &Principal{
		ID:           u.ID.String(),
		Email:        u.Email,
		Username:     u.Username,
		IsPrivileged: u.IsPrivileged,
		Disabled:     u.Disabled,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}
