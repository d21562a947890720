package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"time"

	"github.com/natours/api/internal/auth"
	"github.com/natours/api/internal/models"
	"github.com/natours/api/internal/service"
	"github.com/natours/api/internal/store"

	"github.com/sirupsen/logrus"
)

type seedUser struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Photo    string `json:"photo"`
	Password string `json:"password"`
}

// seedReview refers to its tour by name and its author by email.
type seedReview struct {
	Tour   string  `json:"tour"`
	User   string  `json:"user"`
	Review string  `json:"review"`
	Rating float64 `json:"rating"`
}

// Counts is the number of documents imported per collection.
type Counts struct {
	Users   int
	Tours   int
	Reviews int
}

// Import loads users.json, tours.json and reviews.json from data. Tour
// guides are listed by email. Ratings are recalculated at the end.
func Import(ctx context.Context, st *store.Store, passwords *auth.Passwords, data fs.FS, logger *logrus.Logger) (Counts, error) {
	var (
		counts  Counts
		users   []seedUser
		tours   []models.Tour
		reviews []seedReview
	)
	for name, out := range map[string]interface{}{
		"data/users.json":   &users,
		"data/tours.json":   &tours,
		"data/reviews.json": &reviews,
	} {
		if err := readJSON(data, name, out); err != nil {
			return counts, err
		}
	}

	now := time.Now()
	userIDs := make(map[string]string, len(users))
	for _, su := range users {
		hash, err := passwords.Hash(su.Password)
		if err != nil {
			return counts, err
		}
		u := &models.User{Name: su.Name, Email: su.Email, Password: hash}
		u.ApplyDefaults(now)
		u.Role = su.Role
		if su.Photo != "" {
			u.Photo = su.Photo
		}
		if err := insert(ctx, st.Users, u); err != nil {
			return counts, fmt.Errorf("user %s: %w", su.Email, err)
		}
		userIDs[u.Email] = u.ID
		counts.Users++
	}

	tourIDs := make(map[string]string, len(tours))
	for i := range tours {
		t := &tours[i]
		guides := t.Guides
		t.Guides = make([]string, 0, len(guides))
		for _, email := range guides {
			id, ok := userIDs[models.NormalizeEmail(email)]
			if !ok {
				return counts, fmt.Errorf("tour %s: unknown guide %s", t.Name, email)
			}
			t.Guides = append(t.Guides, id)
		}
		t.RatingsAverage = models.DefaultRatingsAverage
		t.CreatedAt = now
		if t.Images == nil {
			t.Images = []string{}
		}
		if t.Locations == nil {
			t.Locations = []models.Location{}
		}
		if err := insert(ctx, st.Tours, t); err != nil {
			return counts, fmt.Errorf("tour %s: %w", t.Name, err)
		}
		tourIDs[t.Name] = t.ID
		counts.Tours++
	}

	touched := map[string]bool{}
	for _, sr := range reviews {
		r := &models.Review{
			Review: sr.Review,
			Rating: sr.Rating,
			Tour:   tourIDs[sr.Tour],
			User:   userIDs[models.NormalizeEmail(sr.User)],
		}
		r.ApplyDefaults(now)
		if err := insert(ctx, st.Reviews, r); err != nil {
			return counts, fmt.Errorf("review of %s by %s: %w", sr.Tour, sr.User, err)
		}
		touched[r.Tour] = true
		counts.Reviews++
	}

	ratings := service.NewRatings(st.Tours, st.Reviews, logger)
	for tourID := range touched {
		if err := ratings.Recalculate(ctx, tourID); err != nil {
			return counts, err
		}
	}
	return counts, nil
}

// Delete removes every document from every collection.
func Delete(ctx context.Context, st *store.Store) error {
	for _, col := range st.Collections() {
		if err := col.DeleteAll(ctx); err != nil {
			return fmt.Errorf("failed to clear %s: %w", col.Name(), err)
		}
	}
	return nil
}

func insert(ctx context.Context, col store.Collection, doc store.Document) error {
	if n, ok := doc.(models.Normalizer); ok {
		n.Normalize()
	}
	if err := models.Validate(doc); err != nil {
		return err
	}
	return col.Insert(ctx, doc)
}

func readJSON(data fs.FS, name string, out interface{}) error {
	raw, err := fs.ReadFile(data, name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}
