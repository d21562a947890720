package models

import (
	"time"

	"github.com/google/uuid"
)

// Roles
const (
	RoleUser      = "user"
	RoleGuide     = "guide"
	RoleLeadGuide = "lead-guide"
	RoleAdmin     = "admin"
)

// Base carries identity and the optimistic-concurrency version shared by
// every stored entity.
type Base struct {
	ID      string `json:"id" dynamodbav:"id"`
	Version int    `json:"__v" dynamodbav:"__v"`
}

func (b *Base) DocumentID() string       { return b.ID }
func (b *Base) SetDocumentID(id string)  { b.ID = id }
func (b *Base) DocumentVersion() int     { return b.Version }
func (b *Base) SetDocumentVersion(v int) { b.Version = v }

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.NewString()
}

// Defaulter is implemented by entities that need values set before a
// create request body is applied.
type Defaulter interface {
	ApplyDefaults(now time.Time)
}

// Normalizer is implemented by entities that canonicalize fields before
// validation.
type Normalizer interface {
	Normalize()
}
