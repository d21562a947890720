package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/natours/api/internal/metrics"
	"github.com/natours/api/internal/models"
	"github.com/natours/api/internal/query"
	"github.com/natours/api/internal/store"

	"github.com/sirupsen/logrus"
)

const ratingsRetries = 3

// Ratings keeps a tour's rating summary in line with its reviews.
type Ratings struct {
	tours   store.Collection
	reviews store.Collection
	logger  *logrus.Logger
}

func NewRatings(tours, reviews store.Collection, logger *logrus.Logger) *Ratings {
	return &Ratings{tours: tours, reviews: reviews, logger: logger}
}

// Recalculate derives ratingsAverage and ratingsQuantity of a tour from
// all of its reviews. A tour without reviews gets the default average.
// Deleted tours are skipped.
func (r *Ratings) Recalculate(ctx context.Context, tourID string) error {
	var err error
	for attempt := 0; attempt < ratingsRetries; attempt++ {
		err = r.recalculate(ctx, tourID)
		if !errors.Is(err, store.ErrVersionConflict) {
			break
		}
	}

	switch {
	case err == nil:
		metrics.RecordRatingsRecalculation("success")
	case errors.Is(err, store.ErrNotFound):
		metrics.RecordRatingsRecalculation("skipped")
		return nil
	default:
		metrics.RecordRatingsRecalculation("error")
		r.logger.WithError(err).WithField("tour_id", tourID).Error("Failed to recalculate tour ratings")
	}
	return err
}

func (r *Ratings) recalculate(ctx context.Context, tourID string) error {
	var reviews []models.Review
	q := query.Query{Filter: query.Filter{query.Eq("tour", tourID)}}
	if err := r.reviews.Find(ctx, q, &reviews); err != nil {
		return fmt.Errorf("failed to load reviews: %w", err)
	}

	quantity, average := Summarize(reviews)

	var tour models.Tour
	if err := r.tours.FindOne(ctx, store.ByID(tourID), &tour); err != nil {
		return err
	}
	if tour.RatingsQuantity == quantity && tour.RatingsAverage == average {
		return nil
	}
	tour.RatingsQuantity = quantity
	tour.RatingsAverage = average
	return r.tours.Save(ctx, &tour)
}

// Summarize returns the review count and the average rating rounded to
// one decimal.
func Summarize(reviews []models.Review) (int, float64) {
	if len(reviews) == 0 {
		return 0, models.DefaultRatingsAverage
	}
	var sum float64
	for _, rv := range reviews {
		sum += rv.Rating
	}
	return len(reviews), math.Round(sum/float64(len(reviews))*10) / 10
}
