package routes

import (
	"strconv"

	"github.com/natours/api/internal/models"
	"github.com/natours/api/internal/service"
	apperrors "github.com/natours/api/pkg/errors"

	"github.com/gofiber/fiber/v2"
)

// TourHandler serves the tour aggregates. CRUD goes through Resource.
type TourHandler struct {
	tours *service.Tours
}

func NewTourHandler(tours *service.Tours) *TourHandler {
	return &TourHandler{tours: tours}
}

// AliasTopTours rewrites the query to the five best rated, cheapest
// tours.
func AliasTopTours(c *fiber.Ctx) error {
	args := c.Request().URI().QueryArgs()
	args.Set("limit", "5")
	args.Set("sort", "-ratingsAverage,price")
	args.Set("fields", "name,price,ratingsAverage,summary,difficulty")
	return c.Next()
}

// Stats handles GET /tours/tour-stats.
func (h *TourHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.tours.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"status": "success",
		"data":   fiber.Map{"stats": stats},
	})
}

// MonthlyPlan handles GET /tours/monthly-plan/:year.
func (h *TourHandler) MonthlyPlan(c *fiber.Ctx) error {
	year, err := strconv.Atoi(c.Params("year"))
	if err != nil || year < 1 || year > 9999 {
		return apperrors.NewAppErrorf(apperrors.CodeCast, err, "Invalid year: %s.", c.Params("year"))
	}

	plan, err := h.tours.MonthlyPlan(c.UserContext(), year)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"status": "success",
		"data":   fiber.Map{"plan": plan},
	})
}

// Within handles GET /tours/tours-within/:distance/center/:latlng/unit/:unit.
func (h *TourHandler) Within(c *fiber.Ctx) error {
	distance, err := strconv.ParseFloat(c.Params("distance"), 64)
	if err != nil || distance < 0 {
		return apperrors.NewAppErrorf(apperrors.CodeCast, err, "Invalid distance: %s.", c.Params("distance"))
	}

	tours, err := h.tours.Within(c.UserContext(), distance, c.Params("latlng"), c.Params("unit"))
	if err != nil {
		return err
	}
	views := make([]View, len(tours))
	for i := range tours {
		if views[i], err = tourView(&tours[i]); err != nil {
			return err
		}
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"results": len(views),
		"data":    fiber.Map{"data": views},
	})
}

// Distances handles GET /tours/distances/:latlng/unit/:unit.
func (h *TourHandler) Distances(c *fiber.Ctx) error {
	distances, err := h.tours.Distances(c.UserContext(), c.Params("latlng"), c.Params("unit"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"status": "success",
		"data":   fiber.Map{"data": distances},
	})
}

func tourView(t *models.Tour) (View, error) {
	v, err := toView(t)
	if err != nil {
		return nil, err
	}
	v["durationWeeks"] = t.DurationWeeks()
	delete(v, "__v")
	return v, nil
}
