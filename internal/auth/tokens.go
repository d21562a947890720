// Package auth issues and verifies session tokens, hashes passwords and
// decides who may call protected routes.
package auth

import (
	"errors"
	"fmt"
	"time"

	apperrors "github.com/natours/api/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

const (
	MsgInvalidToken = "Invalid token. Please log in again!"
	MsgExpiredToken = "Your token has expired! Please log in again."
)

// Claims are the verified contents of a session token.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Tokens signs HS256 session tokens carrying the user id.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	t.now = now
	return t
}

// TTL is the lifetime of issued tokens.
func (t *Tokens) TTL() time.Duration { return t.ttl }

// Issue signs a token for userID and returns it with its expiry.
func (t *Tokens) Issue(userID string) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks the signature and expiry of raw.
func (t *Tokens) Verify(raw string) (*Claims, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.NewAppError(apperrors.CodeExpiredCredential, MsgExpiredToken, err)
		}
		return nil, apperrors.NewAppError(apperrors.CodeInvalidCredential, MsgInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, apperrors.NewAppError(apperrors.CodeInvalidCredential, MsgInvalidToken, nil)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, apperrors.NewAppError(apperrors.CodeInvalidCredential, MsgInvalidToken, err)
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return nil, apperrors.NewAppError(apperrors.CodeInvalidCredential, MsgInvalidToken, err)
	}
	exp, _ := claims.GetExpirationTime()

	return &Claims{Subject: sub, IssuedAt: iat.Time, ExpiresAt: exp.Time}, nil
}
