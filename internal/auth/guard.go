package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/natours/api/internal/metrics"
	"github.com/natours/api/internal/models"
	apperrors "github.com/natours/api/pkg/errors"
)

const (
	MsgNotLoggedIn      = "You are not logged in! Please log in to get access."
	MsgUserGone         = "The user belonging to this token does no longer exist."
	MsgPasswordChanged  = "User recently changed password! Please log in again."
	MsgPermissionDenied = "You do not have permission to perform this action"
)

// ErrUserNotFound is returned by a UserFinder for unknown or inactive
// users.
var ErrUserNotFound = errors.New("user not found")

// UserFinder loads active users by id.
type UserFinder interface {
	FindUser(ctx context.Context, id string) (*models.User, error)
}

// Guard resolves a presented token to the user it belongs to.
type Guard struct {
	tokens *Tokens
	users  UserFinder
}

func NewGuard(tokens *Tokens, users UserFinder) *Guard {
	return &Guard{tokens: tokens, users: users}
}

// Authenticate returns the user a token belongs to. It fails when the
// token is missing or bad, the user is gone, or the password changed
// after the token was issued.
func (g *Guard) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		metrics.RecordAuthFailure("missing")
		return nil, apperrors.Unauthenticated(MsgNotLoggedIn)
	}

	claims, err := g.tokens.Verify(token)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeExpiredCredential) {
			metrics.RecordAuthFailure("expired")
		} else {
			metrics.RecordAuthFailure("invalid")
		}
		return nil, err
	}

	user, err := g.users.FindUser(ctx, claims.Subject)
	if errors.Is(err, ErrUserNotFound) {
		metrics.RecordAuthFailure("unknown_user")
		return nil, apperrors.Unauthenticated(MsgUserGone)
	}
	if err != nil {
		return nil, err
	}

	if user.ChangedPasswordAfter(claims.IssuedAt) {
		metrics.RecordAuthFailure("stale")
		return nil, apperrors.NewAppError(apperrors.CodeExpiredCredential, MsgPasswordChanged, nil)
	}
	return user, nil
}

// Identify is Authenticate for pages that render either way. Every failure
// yields no user.
func (g *Guard) Identify(ctx context.Context, token string) (*models.User, bool) {
	if token == "" {
		return nil, false
	}
	user, err := g.Authenticate(ctx, token)
	if err != nil {
		return nil, false
	}
	return user, true
}

// Authorize fails unless user holds one of roles.
func Authorize(user *models.User, roles ...string) error {
	if user == nil || !user.HasRole(roles...) {
		metrics.RecordAuthFailure("forbidden")
		return apperrors.Forbidden(MsgPermissionDenied)
	}
	return nil
}

// ExtractToken prefers a bearer Authorization header over the session
// cookie.
func ExtractToken(header, cookie string) string {
	const bearer = "Bearer "
	if strings.HasPrefix(header, bearer) {
		return strings.TrimSpace(header[len(bearer):])
	}
	if cookie != "" && cookie != LoggedOutCookie {
		return cookie
	}
	return ""
}

const (
	// CookieName is the session cookie holding the token.
	CookieName = "jwt"
	// LoggedOutCookie replaces the session cookie on logout.
	LoggedOutCookie = "loggedout"
)
