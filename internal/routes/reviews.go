package routes

import (
	"context"

	"github.com/natours/api/internal/middleware"
	"github.com/natours/api/internal/models"
	"github.com/natours/api/internal/service"
	apperrors "github.com/natours/api/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

const (
	MsgNoSuchReview    = "There is no such review"
	MsgNotReviewAuthor = "You cannot edit someone else's review."
	ParamTourID        = "tourId"
)

// setTourUserIDs fills in the tour from the nested route and the author
// from the session when the body leaves them out. Route params alias the
// request buffer and are copied before they are stored.
func setTourUserIDs(c *fiber.Ctx, r *models.Review) error {
	if r.Tour == "" {
		r.Tour = utils.CopyString(c.Params(ParamTourID))
	}
	if r.User == "" {
		r.User = middleware.GetUserID(c)
	}
	return nil
}

// checkIfAuthor lets admins through and everyone else only on their own
// reviews.
func checkIfAuthor(c *fiber.Ctx, r *models.Review) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return apperrors.Forbidden(MsgNotReviewAuthor)
	}
	if user.Role != models.RoleAdmin && r.User != user.ID {
		return apperrors.Forbidden(MsgNotReviewAuthor)
	}
	return nil
}

// recalculateRatings refreshes every tour the write touched.
func recalculateRatings(ratings *service.Ratings) func(ctx context.Context, before, after *models.Review) error {
	return func(ctx context.Context, before, after *models.Review) error {
		var firstErr error
		seen := map[string]bool{}
		for _, r := range []*models.Review{before, after} {
			if r == nil || r.Tour == "" || seen[r.Tour] {
				continue
			}
			seen[r.Tour] = true
			if err := ratings.Recalculate(ctx, r.Tour); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
}
