package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/natours/api/internal/models"
	"github.com/natours/api/internal/query"
	"github.com/natours/api/internal/store"
	apperrors "github.com/natours/api/pkg/errors"
)

const (
	MsgBadCenter = "Please provide latitude and longitude in the format lat,lng."

	earthRadiusMiles  = 3963.2
	earthRadiusKm     = 6378.1
	metersToMiles     = 0.000621371
	metersToKm        = 0.001
	maxMonthlyEntries = 12
)

// DifficultyStats summarizes the well rated tours of one difficulty.
type DifficultyStats struct {
	Difficulty string  `json:"difficulty"`
	NumTours   int     `json:"numTours"`
	NumRatings int     `json:"numRatings"`
	AvgRating  float64 `json:"avgRating"`
	AvgPrice   float64 `json:"avgPrice"`
	MinPrice   float64 `json:"minPrice"`
	MaxPrice   float64 `json:"maxPrice"`
}

// MonthPlan lists the tours starting in one month.
type MonthPlan struct {
	Month         int      `json:"month"`
	NumTourStarts int      `json:"numTourStarts"`
	Tours         []string `json:"tours"`
}

// TourDistance is how far a tour starts from a point.
type TourDistance struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

// Tours computes aggregates over the visible tours.
type Tours struct {
	tours store.Collection
}

func NewTours(tours store.Collection) *Tours {
	return &Tours{tours: tours}
}

// Stats groups tours rated 4.5 or better by difficulty, cheapest group
// first.
func (t *Tours) Stats(ctx context.Context) ([]DifficultyStats, error) {
	tours, err := t.load(ctx, query.Predicate{Field: "ratingsAverage", Op: query.OpGte, Value: 4.5})
	if err != nil {
		return nil, err
	}

	groups := map[string]*DifficultyStats{}
	ratingSum := map[string]float64{}
	for _, tour := range tours {
		key := strings.ToUpper(tour.Difficulty)
		g, ok := groups[key]
		if !ok {
			g = &DifficultyStats{Difficulty: key, MinPrice: tour.Price, MaxPrice: tour.Price}
			groups[key] = g
		}
		g.NumTours++
		g.NumRatings += tour.RatingsQuantity
		g.AvgPrice += tour.Price
		ratingSum[key] += tour.RatingsAverage
		g.MinPrice = math.Min(g.MinPrice, tour.Price)
		g.MaxPrice = math.Max(g.MaxPrice, tour.Price)
	}

	stats := make([]DifficultyStats, 0, len(groups))
	for key, g := range groups {
		g.AvgPrice /= float64(g.NumTours)
		g.AvgRating = ratingSum[key] / float64(g.NumTours)
		stats = append(stats, *g)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].AvgPrice != stats[j].AvgPrice {
			return stats[i].AvgPrice < stats[j].AvgPrice
		}
		return stats[i].Difficulty < stats[j].Difficulty
	})
	return stats, nil
}

// MonthlyPlan counts tour starts per month of year, busiest month first.
func (t *Tours) MonthlyPlan(ctx context.Context, year int) ([]MonthPlan, error) {
	tours, err := t.load(ctx)
	if err != nil {
		return nil, err
	}

	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	months := map[int]*MonthPlan{}
	for _, tour := range tours {
		for _, start := range tour.StartDates {
			start = start.UTC()
			if start.Before(from) || !start.Before(to) {
				continue
			}
			m := int(start.Month())
			p, ok := months[m]
			if !ok {
				p = &MonthPlan{Month: m, Tours: []string{}}
				months[m] = p
			}
			p.NumTourStarts++
			p.Tours = append(p.Tours, tour.Name)
		}
	}

	plan := make([]MonthPlan, 0, len(months))
	for _, p := range months {
		plan = append(plan, *p)
	}
	sort.Slice(plan, func(i, j int) bool {
		if plan[i].NumTourStarts != plan[j].NumTourStarts {
			return plan[i].NumTourStarts > plan[j].NumTourStarts
		}
		return plan[i].Month < plan[j].Month
	})
	if len(plan) > maxMonthlyEntries {
		plan = plan[:maxMonthlyEntries]
	}
	return plan, nil
}

// Within returns the tours starting inside a circle around center
// ("lat,lng"). Units other than "mi" are kilometers.
func (t *Tours) Within(ctx context.Context, distance float64, center, unit string) ([]models.Tour, error) {
	lat, lng, err := ParseLatLng(center)
	if err != nil {
		return nil, err
	}
	radius := distance / earthRadiusKm
	if unit == "mi" {
		radius = distance / earthRadiusMiles
	}

	tours, err := t.load(ctx)
	if err != nil {
		return nil, err
	}

	within := make([]models.Tour, 0)
	for _, tour := range tours {
		if tour.StartLocation == nil || len(tour.StartLocation.Coordinates) != 2 {
			continue
		}
		if angularDistance(lat, lng, tour.StartLocation.Lat(), tour.StartLocation.Lng()) <= radius {
			within = append(within, tour)
		}
	}
	return within, nil
}

// Distances lists every tour with a start point by distance from
// center, nearest first.
func (t *Tours) Distances(ctx context.Context, center, unit string) ([]TourDistance, error) {
	lat, lng, err := ParseLatLng(center)
	if err != nil {
		return nil, err
	}
	multiplier := metersToKm
	if unit == "mi" {
		multiplier = metersToMiles
	}

	tours, err := t.load(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]TourDistance, 0, len(tours))
	for _, tour := range tours {
		if tour.StartLocation == nil || len(tour.StartLocation.Coordinates) != 2 {
			continue
		}
		meters := angularDistance(lat, lng, tour.StartLocation.Lat(), tour.StartLocation.Lng()) * earthRadiusKm * 1000
		out = append(out, TourDistance{ID: tour.ID, Name: tour.Name, Distance: meters * multiplier})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

func (t *Tours) load(ctx context.Context, preds ...query.Predicate) ([]models.Tour, error) {
	filter := append(query.Filter{models.VisibleTours}, preds...)
	var tours []models.Tour
	if err := t.tours.Find(ctx, query.Query{Filter: filter}, &tours); err != nil {
		return nil, fmt.Errorf("failed to load tours: %w", err)
	}
	return tours, nil
}

// ParseLatLng reads a "lat,lng" pair.
func ParseLatLng(raw string) (lat, lng float64, err error) {
	latRaw, lngRaw, ok := strings.Cut(raw, ",")
	if !ok {
		return 0, 0, apperrors.BadRequest(MsgBadCenter)
	}
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(latRaw), 64)
	lng, errLng := strconv.ParseFloat(strings.TrimSpace(lngRaw), 64)
	if errLat != nil || errLng != nil || math.Abs(lat) > 90 || math.Abs(lng) > 180 {
		return 0, 0, apperrors.BadRequest(MsgBadCenter)
	}
	return lat, lng, nil
}

// angularDistance is the central angle in radians between two points
// given in degrees.
func angularDistance(lat1, lng1, lat2, lng2 float64) float64 {
	const rad = math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * math.Asin(math.Min(1, math.Sqrt(h)))
}
