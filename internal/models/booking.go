package models

import "time"

// Booking records a paid tour purchase.
type Booking struct {
	Base
	Tour      string    `json:"tour" dynamodbav:"tour" validate:"required,uuid"`
	User      string    `json:"user" dynamodbav:"user" validate:"required,uuid"`
	Price     float64   `json:"price" dynamodbav:"price" validate:"required,gt=0"`
	CreatedAt time.Time `json:"createdAt" dynamodbav:"createdAt"`
	Paid      bool      `json:"paid" dynamodbav:"paid"`
}

func (b *Booking) ApplyDefaults(now time.Time) {
	b.CreatedAt = now
	b.Paid = true
}
