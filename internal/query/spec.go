// Package query turns list-endpoint query strings into filter, sort,
// projection and pagination instructions, and evaluates them against
// plain documents.
package query

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPage  = 1
	DefaultLimit = 100
	MaxLimit     = 1000
	DefaultSort  = "-createdAt"
)

// reserved keys never become filter predicates
var reserved = map[string]bool{"page": true, "sort": true, "limit": true, "fields": true}

var operatorKey = regexp.MustCompile(`^([^\[\]]+)\[(gt|gte|lt|lte)\]$`)

// Kind is the value type a field is coerced to.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindTime
	KindID
)

// Field describes one filterable attribute.
type Field struct {
	Kind Kind
	// List fields match when any element satisfies the predicate.
	List bool
	// Hidden fields cannot be filtered on from a request.
	Hidden bool
}

// Schema maps stored attribute names to their description.
type Schema map[string]Field

// Op is a predicate operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
)

// Predicate compares one attribute against a value. For OpIn Value is a
// []interface{}.
type Predicate struct {
	Field string
	Op    Op
	Value interface{}
}

// Filter is a conjunction of predicates.
type Filter []Predicate

func Eq(field string, v interface{}) Predicate { return Predicate{Field: field, Op: OpEq, Value: v} }
func Ne(field string, v interface{}) Predicate { return Predicate{Field: field, Op: OpNe, Value: v} }
func Gt(field string, v interface{}) Predicate { return Predicate{Field: field, Op: OpGt, Value: v} }
func Lt(field string, v interface{}) Predicate { return Predicate{Field: field, Op: OpLt, Value: v} }

func In(field string, vs ...interface{}) Predicate {
	return Predicate{Field: field, Op: OpIn, Value: vs}
}

// SortKey orders by one attribute.
type SortKey struct {
	Field string
	Desc  bool
}

// Spec is the parsed form of a list request.
type Spec struct {
	Filter     Filter
	Sort       []SortKey
	Projection Projection
	Page       int
	Limit      int
}

// Skip is the number of documents before the requested page.
func (s *Spec) Skip() int {
	return (s.Page - 1) * s.Limit
}

// Query is what a collection evaluates.
type Query struct {
	Filter Filter
	Sort   []SortKey
	Skip   int
	// Limit of zero means no limit.
	Limit  int
	Schema Schema
}

// Query combines the parsed spec with scope predicates the caller owns.
func (s *Spec) Query(schema Schema, scope ...Predicate) Query {
	filter := make(Filter, 0, len(scope)+len(s.Filter))
	filter = append(filter, scope...)
	filter = append(filter, s.Filter...)
	return Query{
		Filter: filter,
		Sort:   s.Sort,
		Skip:   s.Skip(),
		Limit:  s.Limit,
		Schema: schema,
	}
}

// CastError reports a value that cannot be converted to its field's type.
type CastError struct {
	Path  string
	Value string
}

func (e *CastError) Error() string {
	return fmt.Sprintf("Invalid %s: %s.", e.Path, e.Value)
}

// Parse builds a Spec from flattened query-string values.
func Parse(values map[string]string, schema Schema) (*Spec, error) {
	filter, err := parseFilter(values, schema)
	if err != nil {
		return nil, err
	}

	projection, err := ParseProjection(values["fields"])
	if err != nil {
		return nil, err
	}

	return &Spec{
		Filter:     filter,
		Sort:       ParseSort(values["sort"]),
		Projection: projection,
		Page:       positive(values["page"], DefaultPage, 0),
		Limit:      positive(values["limit"], DefaultLimit, MaxLimit),
	}, nil
}

func parseFilter(values map[string]string, schema Schema) (Filter, error) {
	filter := Filter{}
	for key, raw := range values {
		if reserved[key] {
			continue
		}

		name, op := key, OpEq
		if m := operatorKey.FindStringSubmatch(key); m != nil {
			name, op = m[1], Op(m[2])
		}

		field, known := schema[name]
		if known && field.Hidden {
			continue
		}

		value, err := Coerce(name, raw, field.Kind, known)
		if err != nil {
			return nil, err
		}
		filter = append(filter, Predicate{Field: name, Op: op, Value: value})
	}

	// map iteration order is random; keep predicates deterministic
	sortPredicates(filter)
	return filter, nil
}

// Coerce converts a raw request value to the kind of its field. Unknown
// fields stay strings.
func Coerce(name, raw string, kind Kind, known bool) (interface{}, error) {
	if !known {
		return raw, nil
	}

	switch kind {
	case KindNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &CastError{Path: name, Value: raw}
		}
		return f, nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, &CastError{Path: name, Value: raw}
		}
		return b, nil
	case KindTime:
		t, err := ParseTime(raw)
		if err != nil {
			return nil, &CastError{Path: name, Value: raw}
		}
		return t, nil
	case KindID:
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, &CastError{Path: name, Value: raw}
		}
		return id.String(), nil
	default:
		return raw, nil
	}
}

// ParseTime accepts RFC 3339 timestamps and plain dates.
func ParseTime(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("not a time value: %q", raw)
}

// ParseSort reads "a,-b" style sort lists.
func ParseSort(raw string) []SortKey {
	if strings.TrimSpace(raw) == "" {
		raw = DefaultSort
	}

	var keys []SortKey
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		desc := strings.HasPrefix(part, "-")
		part = strings.TrimPrefix(part, "-")
		if part == "" {
			continue
		}
		keys = append(keys, SortKey{Field: part, Desc: desc})
	}
	return keys
}

func positive(raw string, def, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

func sortPredicates(f Filter) {
	sort.SliceStable(f, func(i, j int) bool {
		if f[i].Field != f[j].Field {
			return f[i].Field < f[j].Field
		}
		return f[i].Op < f[j].Op
	})
}
