// Package service holds the domain operations that span more than one
// collection or talk to upstreams: accounts, ratings, tour aggregations
// and bookings.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/natours/api/internal/auth"
	"github.com/natours/api/internal/models"
	"github.com/natours/api/internal/query"
	"github.com/natours/api/internal/store"
)

// Users reads accounts that have not been deactivated.
type Users struct {
	users store.Collection
}

var _ auth.UserFinder = (*Users)(nil)

func NewUsers(users store.Collection) *Users {
	return &Users{users: users}
}

// FindUser implements auth.UserFinder.
func (u *Users) FindUser(ctx context.Context, id string) (*models.User, error) {
	user, err := u.findOne(ctx, query.Filter{query.Eq("id", id), models.ActiveUsers})
	if errors.Is(err, store.ErrNotFound) {
		return nil, auth.ErrUserNotFound
	}
	return user, err
}

// FindByEmail looks up an active user by normalized email.
func (u *Users) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return u.findOne(ctx, query.Filter{query.Eq("email", models.NormalizeEmail(email)), models.ActiveUsers})
}

// FindMany loads the active users among ids, in no particular order.
func (u *Users) FindMany(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	values := make([]interface{}, len(ids))
	for i, id := range ids {
		values[i] = id
	}

	var users []models.User
	q := query.Query{Filter: query.Filter{query.In("id", values...), models.ActiveUsers}}
	if err := u.users.Find(ctx, q, &users); err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	return users, nil
}

func (u *Users) findOne(ctx context.Context, f query.Filter) (*models.User, error) {
	var user models.User
	if err := u.users.FindOne(ctx, f, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
