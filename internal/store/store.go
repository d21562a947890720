// Package store persists entities as DynamoDB attribute maps, either in
// process or in DynamoDB tables.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/natours/api/internal/query"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionConflict = errors.New("document was modified concurrently")
)

// DuplicateKeyError reports a write that would break a unique index.
type DuplicateKeyError struct {
	Collection string
	Fields     []string
	Value      string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key in %s on (%s): %s", e.Collection, strings.Join(e.Fields, ", "), e.Value)
}

// Document is an entity the store can persist.
type Document interface {
	DocumentID() string
	SetDocumentID(id string)
	DocumentVersion() int
	SetDocumentVersion(v int)
}

// Index is a set of attributes whose combined value is unique. Documents
// missing any of the attributes are not indexed.
type Index []string

// Definition names a collection and its unique indexes.
type Definition struct {
	Name   string
	Unique []Index
}

var (
	Tours    = Definition{Name: "tours", Unique: []Index{{"name"}}}
	Users    = Definition{Name: "users", Unique: []Index{{"email"}}}
	Reviews  = Definition{Name: "reviews", Unique: []Index{{"tour", "user"}}}
	Bookings = Definition{Name: "bookings"}
)

// Collection is a set of documents of one entity type.
type Collection interface {
	Name() string
	// Insert stores a new document with version 0.
	Insert(ctx context.Context, doc Document) error
	// FindOne decodes the first document matching f into out.
	FindOne(ctx context.Context, f query.Filter, out Document) error
	// Find decodes the documents selected by q into out, a pointer to a
	// slice of entities.
	Find(ctx context.Context, q query.Query, out interface{}) error
	Count(ctx context.Context, f query.Filter) (int, error)
	// Save replaces a document if its stored version equals the version
	// held by doc, then increments the version on doc.
	Save(ctx context.Context, doc Document) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

// Store groups the application collections.
type Store struct {
	Tours    Collection
	Users    Collection
	Reviews  Collection
	Bookings Collection
	Driver   string

	ping func(ctx context.Context) error
}

// Ping checks the backing service.
func (s *Store) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Collections lists every collection of the store.
func (s *Store) Collections() []Collection {
	return []Collection{s.Tours, s.Users, s.Reviews, s.Bookings}
}

// ByID is the filter for a single document.
func ByID(id string) query.Filter {
	return query.Filter{query.Eq("id", id)}
}

func idFromFilter(f query.Filter) (string, bool) {
	for _, p := range f {
		if p.Field == "id" && p.Op == query.OpEq {
			id, ok := p.Value.(string)
			return id, ok
		}
	}
	return "", false
}
