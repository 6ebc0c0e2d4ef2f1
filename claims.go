package gatekeeper

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenPurpose tags which endpoints may accept a token
type TokenPurpose string

const (
	PurposeAccess  TokenPurpose = "access"
	PurposeRefresh TokenPurpose = "refresh"
)

// Valid reports whether p is one of the known purposes
func (p TokenPurpose) Valid() bool {
	return p == PurposeAccess || p == PurposeRefresh
}

// JWTClaims is the wire representation of a signed token
type JWTClaims struct {
	jwt.RegisteredClaims
	UID     string       `json:"uid,omitempty"`
	Name    string       `json:"name,omitempty"`
	Purpose TokenPurpose `json:"purpose"`
}

// TokenClaims are the verified claims recovered from a token. They never
// carry privilege.
type TokenClaims struct {
	ID          string       `json:"jti"`
	SubjectID   string       `json:"subject_id"`
	SubjectName string       `json:"subject_name"`
	Purpose     TokenPurpose `json:"purpose"`
	IssuedAt    time.Time    `json:"issued_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// Token is a signed token together with the claims it encodes
type Token struct {
	Raw    string      `json:"token"`
	Claims TokenClaims `json:"claims"`
}

// TokenPair is minted atomically per sign-in, sign-up or refresh
type TokenPair struct {
	Access  Token `json:"access"`
	Refresh Token `json:"refresh"`
}

func (c *JWTClaims) toTokenClaims() *TokenClaims {
	out := &TokenClaims{
		ID:          c.RegisteredClaims.ID,
		SubjectID:   c.UID,
		SubjectName: c.Name,
		Purpose:     c.Purpose,
	}
	if out.SubjectID == "" {
		out.SubjectID = c.RegisteredClaims.Subject
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}
