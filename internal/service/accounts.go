package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/natours/api/internal/auth"
	"github.com/natours/api/internal/clients"
	"github.com/natours/api/internal/models"
	"github.com/natours/api/internal/query"
	"github.com/natours/api/internal/store"
	apperrors "github.com/natours/api/pkg/errors"

	"github.com/sirupsen/logrus"
)

const (
	MsgMissingCredentials = "Please provide email and password!"
	MsgWrongCredentials   = "Incorrect email or password"
	MsgNoUserWithEmail    = "There is no user with email address."
	MsgTokenSent          = "Token sent to email!"
	MsgEmailFailed        = "There was an error sending the email. Try again later!"
	MsgResetTokenInvalid  = "Token is invalid or has expired"
	MsgWrongPassword      = "Your current password is wrong."
	MsgNotForPasswords    = "This route is not for password updates. Please use /updateMyPassword."
)

// Session is a signed-in user and the token that proves it.
type Session struct {
	User    *models.User
	Token   string
	Expires time.Time
}

// Accounts implements signup, login and the password flows.
type Accounts struct {
	users     store.Collection
	finder    *Users
	tokens    *auth.Tokens
	passwords *auth.Passwords
	mailer    clients.Mailer
	publicURL string
	logger    *logrus.Logger
	now       func() time.Time
}

func NewAccounts(users store.Collection, tokens *auth.Tokens, passwords *auth.Passwords, mailer clients.Mailer, publicURL string, logger *logrus.Logger) *Accounts {
	return &Accounts{
		users:     users,
		finder:    NewUsers(users),
		tokens:    tokens,
		passwords: passwords,
		mailer:    mailer,
		publicURL: publicURL,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (a *Accounts) WithClock(now func() time.Time) *Accounts {
	a.now = now
	return a
}

// Signup creates a regular user and signs them in. The welcome email is
// best effort.
func (a *Accounts) Signup(ctx context.Context, req models.SignupRequest) (*Session, error) {
	req.Email = models.NormalizeEmail(req.Email)
	if err := models.Validate(&req); err != nil {
		return nil, err
	}

	hash, err := a.passwords.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{Name: req.Name, Email: req.Email}
	user.ApplyDefaults(a.now())
	user.Password = hash
	user.Normalize()
	if err := models.Validate(user); err != nil {
		return nil, err
	}
	if err := a.users.Insert(ctx, user); err != nil {
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{"user_id": user.ID, "email": user.Email}).Info("User signed up")

	if err := a.mailer.Send(ctx, clients.WelcomeEmail(user.Email, user.Name, a.publicURL+"/me")); err != nil {
		a.logger.WithError(err).WithField("user_id", user.ID).Warn("Failed to send welcome email")
	}
	return a.session(user)
}

// Login checks credentials. Unknown email and wrong password fail the
// same way.
func (a *Accounts) Login(ctx context.Context, req models.LoginRequest) (*Session, error) {
	if req.Email == "" || req.Password == "" {
		return nil, apperrors.BadRequest(MsgMissingCredentials)
	}

	user, err := a.finder.FindByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if user == nil || !a.passwords.Compare(user.Password, req.Password) {
		return nil, apperrors.Unauthenticated(MsgWrongCredentials)
	}

	a.logger.WithField("user_id", user.ID).Info("User logged in")
	return a.session(user)
}

// ForgotPassword stores a reset token digest and mails the token. When
// the mail cannot be sent the token is withdrawn.
func (a *Accounts) ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) error {
	user, err := a.finder.FindByEmail(ctx, req.Email)
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.NotFound(MsgNoUserWithEmail)
	}
	if err != nil {
		return err
	}

	token, digest, err := auth.NewResetToken()
	if err != nil {
		return err
	}
	expires := a.now().Add(auth.ResetTokenTTL)
	user.PasswordResetToken = digest
	user.PasswordResetExpires = &expires
	if err := a.users.Save(ctx, user); err != nil {
		return err
	}

	resetURL := a.publicURL + "/api/v1/users/resetPassword/" + token
	if err := a.mailer.Send(ctx, clients.PasswordResetEmail(user.Email, resetURL)); err != nil {
		user.PasswordResetToken = ""
		user.PasswordResetExpires = nil
		if saveErr := a.users.Save(ctx, user); saveErr != nil {
			a.logger.WithError(saveErr).WithField("user_id", user.ID).Error("Failed to clear password reset token")
		}
		return apperrors.NewAppError(apperrors.CodeDeliveryFailed, MsgEmailFailed, err)
	}
	return nil
}

// ResetPassword sets a new password for the holder of an unexpired reset
// token.
func (a *Accounts) ResetPassword(ctx context.Context, token string, req models.ResetPasswordRequest) (*Session, error) {
	if token == "" {
		return nil, apperrors.BadRequest(MsgResetTokenInvalid)
	}
	now := a.now()

	var user models.User
	err := a.users.FindOne(ctx, query.Filter{
		query.Eq("passwordResetToken", auth.HashResetToken(token)),
		query.Gt("passwordResetExpires", now),
		models.ActiveUsers,
	}, &user)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.BadRequest(MsgResetTokenInvalid)
	}
	if err != nil {
		return nil, err
	}

	if err := models.Validate(&req); err != nil {
		return nil, err
	}
	if err := a.changePassword(ctx, &user, req.Password, now); err != nil {
		return nil, err
	}
	return a.session(&user)
}

// UpdatePassword changes the password of a signed-in user who knows the
// current one.
func (a *Accounts) UpdatePassword(ctx context.Context, current *models.User, req models.UpdatePasswordRequest) (*Session, error) {
	user, err := a.finder.FindUser(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	if !a.passwords.Compare(user.Password, req.PasswordCurrent) {
		return nil, apperrors.Unauthenticated(MsgWrongPassword)
	}
	if err := models.Validate(&req); err != nil {
		return nil, err
	}
	if err := a.changePassword(ctx, user, req.Password, a.now()); err != nil {
		return nil, err
	}
	return a.session(user)
}

// UpdateMe applies a profile update from a raw JSON body. Only name,
// email and photo are taken.
func (a *Accounts) UpdateMe(ctx context.Context, current *models.User, body []byte) (*models.User, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if _, ok := fields["password"]; ok {
		return nil, apperrors.BadRequest(MsgNotForPasswords)
	}
	if _, ok := fields["passwordConfirm"]; ok {
		return nil, apperrors.BadRequest(MsgNotForPasswords)
	}

	var req models.UpdateMeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	user, err := a.finder.FindUser(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.Photo != nil {
		user.Photo = *req.Photo
	}
	user.Normalize()
	if err := models.Validate(user); err != nil {
		return nil, err
	}
	if err := a.users.Save(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteMe deactivates the account. Inactive users cannot sign in and
// are hidden from every query.
func (a *Accounts) DeleteMe(ctx context.Context, current *models.User) error {
	user, err := a.finder.FindUser(ctx, current.ID)
	if err != nil {
		return err
	}
	user.Active = false
	if err := a.users.Save(ctx, user); err != nil {
		return err
	}
	a.logger.WithField("user_id", user.ID).Info("User deactivated")
	return nil
}

func (a *Accounts) changePassword(ctx context.Context, user *models.User, password string, now time.Time) error {
	hash, err := a.passwords.Hash(password)
	if err != nil {
		return err
	}
	user.SetPassword(hash, now)
	if err := a.users.Save(ctx, user); err != nil {
		return fmt.Errorf("failed to save password: %w", err)
	}
	return nil
}

func (a *Accounts) session(user *models.User) (*Session, error) {
	token, expires, err := a.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, Token: token, Expires: expires}, nil
}
