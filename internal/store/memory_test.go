package store

import (
	"context"
	"testing"
	"time"

	"github.com/natours/api/internal/models"
	"github.com/natours/api/internal/query"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTour(name string, price float64, difficulty string) *models.Tour {
	t := &models.Tour{}
	t.ApplyDefaults(time.Now())
	t.ID = models.NewID()
	t.Name = name
	t.Price = price
	t.Difficulty = difficulty
	t.Duration = 5
	t.MaxGroupSize = 10
	return t
}

func TestMemoryInsertAndFindOne(t *testing.T) {
	ctx := context.Background()
	tours := NewMemoryCollection(Tours)

	tour := newTour("The Forest Hiker", 397, "easy")
	require.NoError(t, tours.Insert(ctx, tour))
	assert.Equal(t, 0, tour.Version)

	var got models.Tour
	require.NoError(t, tours.FindOne(ctx, ByID(tour.ID), &got))
	assert.Equal(t, tour.Name, got.Name)
	assert.Equal(t, 397.0, got.Price)
	assert.True(t, tour.CreatedAt.Equal(got.CreatedAt))

	err := tours.FindOne(ctx, ByID(models.NewID()), &got)
	assert.ErrorIs(t, err, ErrNotFound)

	err = tours.FindOne(ctx, query.Filter{query.Eq("id", tour.ID), query.Eq("difficulty", "medium")}, &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUniqueIndex(t *testing.T) {
	ctx := context.Background()
	reviews := NewMemoryCollection(Reviews)

	tourID, userID := models.NewID(), models.NewID()
	first := &models.Review{Review: "Great", Rating: 5, Tour: tourID, User: userID}
	require.NoError(t, reviews.Insert(ctx, first))
	assert.NotEmpty(t, first.ID)

	second := &models.Review{Review: "Again", Rating: 4, Tour: tourID, User: userID}
	err := reviews.Insert(ctx, second)

	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, []string{"tour", "user"}, []string(dup.Fields))
	assert.Equal(t, tourID+", "+userID, dup.Value)

	other := &models.Review{Review: "Other user", Rating: 3, Tour: tourID, User: models.NewID()}
	require.NoError(t, reviews.Insert(ctx, other))

	n, err := reviews.Count(ctx, query.Filter{query.Eq("tour", tourID)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemorySaveVersioning(t *testing.T) {
	ctx := context.Background()
	tours := NewMemoryCollection(Tours)

	a := newTour("The Forest Hiker", 397, "easy")
	b := newTour("The Sea Explorer", 497, "medium")
	require.NoError(t, tours.Insert(ctx, a))
	require.NoError(t, tours.Insert(ctx, b))

	a.Price = 420
	require.NoError(t, tours.Save(ctx, a))
	assert.Equal(t, 1, a.Version)

	stale := *a
	stale.Version = 0
	assert.ErrorIs(t, tours.Save(ctx, &stale), ErrVersionConflict)
	assert.Equal(t, 0, stale.Version)

	b.Name = a.Name
	var dup *DuplicateKeyError
	assert.ErrorAs(t, tours.Save(ctx, b), &dup)

	// renaming frees the old key
	a.Name = "The Forest Walker"
	require.NoError(t, tours.Save(ctx, a))
	b.Name = "The Forest Hiker"
	require.NoError(t, tours.Save(ctx, b))

	missing := newTour("The Ghost Tour", 1, "easy")
	assert.ErrorIs(t, tours.Save(ctx, missing), ErrNotFound)
}

func TestMemoryDeleteIsRepeatable(t *testing.T) {
	ctx := context.Background()
	tours := NewMemoryCollection(Tours)

	tour := newTour("The Forest Hiker", 397, "easy")
	require.NoError(t, tours.Insert(ctx, tour))

	require.NoError(t, tours.Delete(ctx, tour.ID))
	assert.ErrorIs(t, tours.Delete(ctx, tour.ID), ErrNotFound)
	assert.ErrorIs(t, tours.Delete(ctx, tour.ID), ErrNotFound)

	// the unique key is released
	again := newTour("The Forest Hiker", 397, "easy")
	assert.NoError(t, tours.Insert(ctx, again))
}

func TestMemoryFind(t *testing.T) {
	ctx := context.Background()
	tours := NewMemoryCollection(Tours)

	for i, tt := range []struct {
		name       string
		price      float64
		difficulty string
	}{
		{"The Forest Hiker", 397, "easy"},
		{"The Sea Explorer", 497, "medium"},
		{"The City Wanderer", 1197, "easy"},
		{"The Park Camper", 1497, "easy"},
	} {
		tour := newTour(tt.name, tt.price, tt.difficulty)
		tour.CreatedAt = time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, tours.Insert(ctx, tour))
	}

	spec, err := query.Parse(map[string]string{"difficulty": "easy", "sort": "-price", "limit": "2"}, models.TourSchema)
	require.NoError(t, err)

	var got []models.Tour
	require.NoError(t, tours.Find(ctx, spec.Query(models.TourSchema), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "The Park Camper", got[0].Name)
	assert.Equal(t, "The City Wanderer", got[1].Name)

	spec, err = query.Parse(map[string]string{}, models.TourSchema)
	require.NoError(t, err)
	got = nil
	require.NoError(t, tours.Find(ctx, spec.Query(models.TourSchema), &got))
	require.Len(t, got, 4)
	assert.Equal(t, "The Park Camper", got[0].Name, "newest first by default")

	require.NoError(t, tours.DeleteAll(ctx))
	n, err := tours.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
