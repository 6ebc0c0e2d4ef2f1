package gatekeeper

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	// DefaultAccessTokenLifetime is used when Config returns a zero lifetime
	DefaultAccessTokenLifetime = 24 * time.Hour
	// DefaultRefreshTokenLifetime is used when Config returns a zero lifetime
	DefaultRefreshTokenLifetime = 7 * 24 * time.Hour
)

// TokenService issues and verifies purpose tagged token pairs. It holds no
// mutable state and is safe for concurrent use.
type TokenService struct {
	signingKey      []byte
	accessLifetime  time.Duration
	refreshLifetime time.Duration
	issuer          string
	audience        jwt.ClaimStrings
	logger          Logger
}

// NewTokenService creates a new TokenService instance. A missing signing key
// is a configuration error and is reported here, never at issuance time.
func NewTokenService(cfg Config, logger Logger) (*TokenService, error) {
	if cfg == nil || cfg.GetSigningKey() == "" {
		return nil, ErrMissingSigningKey
	}

	ts := &TokenService{
		signingKey:      []byte(cfg.GetSigningKey()),
		accessLifetime:  cfg.GetAccessTokenLifetime(),
		refreshLifetime: cfg.GetRefreshTokenLifetime(),
		issuer:          cfg.GetIssuer(),
		audience:        jwt.ClaimStrings(cfg.GetAudience()),
		logger:          resolveLogger(logger),
	}

	if ts.accessLifetime <= 0 {
		ts.accessLifetime = DefaultAccessTokenLifetime
	}

	if ts.refreshLifetime <= 0 {
		ts.refreshLifetime = DefaultRefreshTokenLifetime
	}

	return ts, nil
}

// AccessLifetime returns the configured access token lifetime
func (ts *TokenService) AccessLifetime() time.Duration {
	return ts.accessLifetime
}

// RefreshLifetime returns the configured refresh token lifetime
func (ts *TokenService) RefreshLifetime() time.Duration {
	return ts.refreshLifetime
}

// Issue mints an access and a refresh token for an already authenticated
// subject. Both tokens share subject and issuance time.
//
// Issuance is truncated to the whole second, so a token expires up to one
// second before now plus its lifetime when now carries a fraction.
func (ts *TokenService) Issue(subjectID, subjectName string, now time.Time) (TokenPair, error) {
	if subjectID == "" {
		return TokenPair{}, goerrors.New("subject id must not be empty", goerrors.CategoryInternal)
	}

	// NumericDate has second precision, anchor both tokens on a whole second
	// so that expiry is exactly issuance plus lifetime.
	issuedAt := now.UTC().Truncate(time.Second)

	access, err := ts.mint(subjectID, subjectName, PurposeAccess, issuedAt, ts.accessLifetime)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := ts.mint(subjectID, subjectName, PurposeRefresh, issuedAt, ts.refreshLifetime)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{Access: access, Refresh: refresh}, nil
}

func (ts *TokenService) mint(subjectID, subjectName string, purpose TokenPurpose, issuedAt time.Time, ttl time.Duration) (Token, error) {
	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   subjectID,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		UID:     subjectID,
		Name:    subjectName,
		Purpose: purpose,
	}

	raw, err := ts.SignClaims(claims)
	if err != nil {
		return Token{}, err
	}

	return Token{Raw: raw, Claims: *claims.toTokenClaims()}, nil
}

// SignClaims signs arbitrary JWT claims using the configured signing key.
func (ts *TokenService) SignClaims(claims *JWTClaims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Verify recovers the claims of raw when it is well formed, correctly
// signed, unexpired at now and minted for purpose. Every failure is
// reported as ErrTokenRejected.
func (ts *TokenService) Verify(raw string, purpose TokenPurpose, now time.Time) (*TokenClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(raw, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		reason := classifyParseError(err)
		ts.logger.Debug("token rejected", "reason", reason, "error", err)
		return nil, tokenRejected(reason, err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, tokenRejected(RejectMalformed, nil)
	}

	if claims.Purpose != purpose {
		ts.logger.Debug("token rejected", "reason", RejectWrongPurpose, "want", purpose, "got", claims.Purpose)
		return nil, tokenRejected(RejectWrongPurpose, nil)
	}

	out := claims.toTokenClaims()
	if out.SubjectID == "" {
		return nil, tokenRejected(RejectMalformed, nil)
	}

	return out, nil
}

func classifyParseError(err error) RejectReason {
	switch {
	case goerrors.Is(err, jwt.ErrTokenExpired):
		return RejectExpired
	case goerrors.Is(err, jwt.ErrTokenSignatureInvalid), goerrors.Is(err, jwt.ErrTokenUnverifiable):
		return RejectSignature
	default:
		return RejectMalformed
	}
}
