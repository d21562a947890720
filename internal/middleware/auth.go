package middleware

import (
	"github.com/natours/api/internal/auth"
	"github.com/natours/api/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const (
	localUser   = "user"
	localUserID = "user_id"
)

type AuthMiddleware struct {
	guard  *auth.Guard
	logger *logrus.Logger
}

func NewAuthMiddleware(guard *auth.Guard, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{guard: guard, logger: logger}
}

// Protect rejects requests without a valid, fresh token for an active user.
func (a *AuthMiddleware) Protect() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := auth.ExtractToken(c.Get(fiber.HeaderAuthorization), c.Cookies(auth.CookieName))

		user, err := a.guard.Authenticate(c.UserContext(), token)
		if err != nil {
			a.logger.WithError(err).WithField("path", c.Path()).Debug("Authentication failed")
			return err
		}

		SetUser(c, user)
		return c.Next()
	}
}

// OptionalIdentity attaches the user when the session cookie is valid and
// never rejects the request.
func (a *AuthMiddleware) OptionalIdentity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := auth.ExtractToken("", c.Cookies(auth.CookieName))
		if user, ok := a.guard.Identify(c.UserContext(), token); ok {
			SetUser(c, user)
		}
		return c.Next()
	}
}

// RestrictTo must run after Protect.
func RestrictTo(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := auth.Authorize(CurrentUser(c), roles...); err != nil {
			return err
		}
		return c.Next()
	}
}

func SetUser(c *fiber.Ctx, user *models.User) {
	c.Locals(localUser, user)
	c.Locals(localUserID, user.ID)
}

// CurrentUser returns the authenticated user, or nil.
func CurrentUser(c *fiber.Ctx) *models.User {
	if user, ok := c.Locals(localUser).(*models.User); ok {
		return user
	}
	return nil
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals(localUserID).(string); ok {
		return userID
	}
	return ""
}
