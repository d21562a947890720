package models

import (
	"strings"
	"time"
)

// Review is one user's rating of one tour.
type Review struct {
	Base
	Review    string    `json:"review" dynamodbav:"review" validate:"required"`
	Rating    float64   `json:"rating" dynamodbav:"rating" validate:"required,gte=1,lte=5"`
	CreatedAt time.Time `json:"createdAt" dynamodbav:"createdAt"`
	Tour      string    `json:"tour" dynamodbav:"tour" validate:"required,uuid"`
	User      string    `json:"user" dynamodbav:"user" validate:"required,uuid"`
}

func (r *Review) ApplyDefaults(now time.Time) {
	r.CreatedAt = now
}

func (r *Review) Normalize() {
	r.Review = strings.TrimSpace(r.Review)
}
