package models

import (
	"strings"
	"time"
)

const DefaultPhoto = "default.jpg"

// User represents an account. Password holds the bcrypt hash and never
// leaves the server.
type User struct {
	Base
	Name                 string     `json:"name" dynamodbav:"name" validate:"required,max=80"`
	Email                string     `json:"email" dynamodbav:"email" validate:"required,email"`
	Photo                string     `json:"photo" dynamodbav:"photo"`
	Role                 string     `json:"role" dynamodbav:"role" validate:"required,oneof=user guide lead-guide admin"`
	Password             string     `json:"-" dynamodbav:"password"`
	PasswordChangedAt    *time.Time `json:"passwordChangedAt,omitempty" dynamodbav:"passwordChangedAt,omitempty"`
	PasswordResetToken   string     `json:"-" dynamodbav:"passwordResetToken,omitempty"`
	PasswordResetExpires *time.Time `json:"-" dynamodbav:"passwordResetExpires,omitempty"`
	Active               bool       `json:"-" dynamodbav:"active"`
	CreatedAt            time.Time  `json:"createdAt" dynamodbav:"createdAt"`
}

func (u *User) ApplyDefaults(now time.Time) {
	u.Photo = DefaultPhoto
	u.Role = RoleUser
	u.Active = true
	u.CreatedAt = now
}

func (u *User) Normalize() {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = NormalizeEmail(u.Email)
	if u.Photo == "" {
		u.Photo = DefaultPhoto
	}
}

// ChangedPasswordAfter reports whether the password changed after a token
// issued at iat. Comparison is at second granularity like token claims.
func (u *User) ChangedPasswordAfter(iat time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return iat.Unix() < u.PasswordChangedAt.Unix()
}

// SetPassword stores a new hash. The change time is backdated one second
// so a token issued right after still passes the freshness check.
func (u *User) SetPassword(hash string, now time.Time) {
	u.Password = hash
	changed := now.Add(-time.Second)
	u.PasswordChangedAt = &changed
	u.PasswordResetToken = ""
	u.PasswordResetExpires = nil
}

// HasRole reports whether the user holds one of roles.
func (u *User) HasRole(roles ...string) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignupRequest is the body of POST /users/signup.
type SignupRequest struct {
	Name            string `json:"name" validate:"required,max=80"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

// LoginRequest represents login request payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest is the body of PATCH /users/resetPassword/:token.
type ResetPasswordRequest struct {
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

type UpdatePasswordRequest struct {
	PasswordCurrent string `json:"passwordCurrent" validate:"required"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

// UpdateMeRequest lists the only fields a user may change on their own
// profile.
type UpdateMeRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Photo *string `json:"photo"`
}
