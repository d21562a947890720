package routes

import (
	"time"

	"github.com/natours/api/internal/auth"
	"github.com/natours/api/internal/config"
	"github.com/natours/api/internal/middleware"
	"github.com/natours/api/internal/models"
	"github.com/natours/api/internal/service"
	apperrors "github.com/natours/api/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const MsgUseSignup = "This route is not defined! Please use /signup instead"

// AuthHandler handles the account endpoints under /users.
type AuthHandler struct {
	accounts     *service.Accounts
	cookieDays   int
	secureCookie bool
	logger       *logrus.Logger
}

func NewAuthHandler(accounts *service.Accounts, cfg *config.Config, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		accounts:     accounts,
		cookieDays:   cfg.JWT.CookieExpiresIn,
		secureCookie: cfg.Server.IsProduction(),
		logger:       logger,
	}
}

// Signup handles POST /users/signup.
func (h *AuthHandler) Signup(c *fiber.Ctx) error {
	var req models.SignupRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	session, err := h.accounts.Signup(c.UserContext(), req)
	if err != nil {
		return err
	}
	return h.sendSession(c, fiber.StatusCreated, session)
}

// Login handles POST /users/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	session, err := h.accounts.Login(c.UserContext(), req)
	if err != nil {
		return err
	}
	return h.sendSession(c, fiber.StatusOK, session)
}

// Logout replaces the session cookie with a short lived placeholder.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     auth.CookieName,
		Value:    auth.LoggedOutCookie,
		Expires:  time.Now().Add(10 * time.Second),
		HTTPOnly: true,
		Secure:   h.secureCookie,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
	return c.JSON(fiber.Map{"status": "success"})
}

// ForgotPassword handles POST /users/forgotPassword.
func (h *AuthHandler) ForgotPassword(c *fiber.Ctx) error {
	var req models.ForgotPasswordRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if err := h.accounts.ForgotPassword(c.UserContext(), req); err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"message": service.MsgTokenSent,
	})
}

// ResetPassword handles PATCH /users/resetPassword/:token.
func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var req models.ResetPasswordRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	session, err := h.accounts.ResetPassword(c.UserContext(), c.Params("token"), req)
	if err != nil {
		return err
	}
	return h.sendSession(c, fiber.StatusOK, session)
}

// UpdatePassword handles PATCH /users/updateMyPassword.
func (h *AuthHandler) UpdatePassword(c *fiber.Ctx) error {
	var req models.UpdatePasswordRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	session, err := h.accounts.UpdatePassword(c.UserContext(), middleware.CurrentUser(c), req)
	if err != nil {
		return err
	}
	return h.sendSession(c, fiber.StatusOK, session)
}

// GetMe handles GET /users/me.
func (h *AuthHandler) GetMe(c *fiber.Ctx) error {
	view, err := toView(middleware.CurrentUser(c))
	if err != nil {
		return err
	}
	delete(view, "__v")
	return c.JSON(fiber.Map{
		"status": "success",
		"data":   fiber.Map{"data": view},
	})
}

// UpdateMe handles PATCH /users/updateMe.
func (h *AuthHandler) UpdateMe(c *fiber.Ctx) error {
	if len(c.Body()) == 0 {
		return apperrors.BadRequest("Request body is required")
	}
	user, err := h.accounts.UpdateMe(c.UserContext(), middleware.CurrentUser(c), c.Body())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"status": "success",
		"data":   fiber.Map{"user": user},
	})
}

// DeleteMe handles DELETE /users/deleteMe.
func (h *AuthHandler) DeleteMe(c *fiber.Ctx) error {
	if err := h.accounts.DeleteMe(c.UserContext(), middleware.CurrentUser(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// CreateUser answers POST /users. Accounts are created through signup.
func CreateUser(c *fiber.Ctx) error {
	return apperrors.BadRequest(MsgUseSignup)
}

// setSessionCookie stores the token in the session cookie.
func (h *AuthHandler) setSessionCookie(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Expires:  time.Now().Add(time.Duration(h.cookieDays) * 24 * time.Hour),
		HTTPOnly: true,
		Secure:   h.secureCookie,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func (h *AuthHandler) sendSession(c *fiber.Ctx, status int, session *service.Session) error {
	h.setSessionCookie(c, session.Token)
	return c.Status(status).JSON(fiber.Map{
		"status": "success",
		"token":  session.Token,
		"data":   fiber.Map{"user": session.User},
	})
}
