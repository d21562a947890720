package models

import (
	"math"
	"regexp"
	"strings"
	"time"
)

const (
	DifficultyEasy      = "easy"
	DifficultyMedium    = "medium"
	DifficultyDifficult = "difficult"

	DefaultRatingsAverage = 4.5
)

// Location is a GeoJSON point with a description. Coordinates are
// [longitude, latitude].
type Location struct {
	Type        string    `json:"type" dynamodbav:"type" validate:"omitempty,eq=Point"`
	Coordinates []float64 `json:"coordinates" dynamodbav:"coordinates" validate:"omitempty,len=2,dive,gte=-180,lte=180"`
	Address     string    `json:"address,omitempty" dynamodbav:"address,omitempty"`
	Description string    `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Day         int       `json:"day,omitempty" dynamodbav:"day,omitempty" validate:"gte=0"`
}

// Lng returns the longitude of the point.
func (l Location) Lng() float64 { return coord(l.Coordinates, 0) }

// Lat returns the latitude of the point.
func (l Location) Lat() float64 { return coord(l.Coordinates, 1) }

func coord(c []float64, i int) float64 {
	if len(c) > i {
		return c[i]
	}
	return 0
}

// Tour is a bookable trip.
type Tour struct {
	Base
	Name            string      `json:"name" dynamodbav:"name" validate:"required,min=10,max=40"`
	Slug            string      `json:"slug" dynamodbav:"slug"`
	Duration        int         `json:"duration" dynamodbav:"duration" validate:"required,gt=0"`
	MaxGroupSize    int         `json:"maxGroupSize" dynamodbav:"maxGroupSize" validate:"required,gt=0"`
	Difficulty      string      `json:"difficulty" dynamodbav:"difficulty" validate:"required,oneof=easy medium difficult"`
	RatingsAverage  float64     `json:"ratingsAverage" dynamodbav:"ratingsAverage" validate:"gte=1,lte=5"`
	RatingsQuantity int         `json:"ratingsQuantity" dynamodbav:"ratingsQuantity" validate:"gte=0"`
	Price           float64     `json:"price" dynamodbav:"price" validate:"required,gt=0"`
	PriceDiscount   *float64    `json:"priceDiscount,omitempty" dynamodbav:"priceDiscount,omitempty" validate:"omitempty,gte=0"`
	Summary         string      `json:"summary" dynamodbav:"summary" validate:"required"`
	Description     string      `json:"description" dynamodbav:"description"`
	ImageCover      string      `json:"imageCover" dynamodbav:"imageCover" validate:"required"`
	Images          []string    `json:"images" dynamodbav:"images"`
	CreatedAt       time.Time   `json:"createdAt" dynamodbav:"createdAt"`
	StartDates      []time.Time `json:"startDates" dynamodbav:"startDates"`
	SecretTour      bool        `json:"secretTour" dynamodbav:"secretTour"`
	StartLocation   *Location   `json:"startLocation,omitempty" dynamodbav:"startLocation,omitempty"`
	Locations       []Location  `json:"locations" dynamodbav:"locations" validate:"dive"`
	Guides          []string    `json:"guides" dynamodbav:"guides" validate:"dive,uuid"`
}

func (t *Tour) ApplyDefaults(now time.Time) {
	t.RatingsAverage = DefaultRatingsAverage
	t.CreatedAt = now
	t.Images = []string{}
	t.StartDates = []time.Time{}
	t.Locations = []Location{}
	t.Guides = []string{}
}

func (t *Tour) Normalize() {
	t.Name = strings.TrimSpace(t.Name)
	t.Summary = strings.TrimSpace(t.Summary)
	t.Description = strings.TrimSpace(t.Description)
	t.Slug = Slugify(t.Name)
	t.RatingsAverage = math.Round(t.RatingsAverage*10) / 10
	if t.StartLocation != nil && t.StartLocation.Type == "" {
		t.StartLocation.Type = "Point"
	}
	for i := range t.Locations {
		if t.Locations[i].Type == "" {
			t.Locations[i].Type = "Point"
		}
	}
}

// DurationWeeks is the tour length in weeks.
func (t *Tour) DurationWeeks() float64 {
	return float64(t.Duration) / 7
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lower-cases s and joins its words with dashes.
func Slugify(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
