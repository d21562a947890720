package query

import (
	"testing"

	apperrors "github.com/natours/api/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tourSchema = Schema{
	"id":             {Kind: KindID},
	"name":           {Kind: KindString},
	"difficulty":     {Kind: KindString},
	"price":          {Kind: KindNumber},
	"duration":       {Kind: KindNumber},
	"ratingsAverage": {Kind: KindNumber},
	"secretTour":     {Kind: KindBool},
	"createdAt":      {Kind: KindTime},
	"startDates":     {Kind: KindTime, List: true},
	"guides":         {Kind: KindID, List: true},
	"password":       {Kind: KindString, Hidden: true},
}

func tours() []map[string]interface{} {
	return []map[string]interface{}{
		{"id": "a", "name": "The Forest Hiker", "difficulty": "easy", "price": 397.0, "duration": 5.0, "createdAt": "2024-01-01T00:00:00Z", "startDates": []interface{}{"2025-04-25T09:00:00Z", "2025-07-20T09:00:00Z"}},
		{"id": "b", "name": "The Sea Explorer", "difficulty": "medium", "price": 497.0, "duration": 7.0, "createdAt": "2024-02-01T00:00:00Z", "startDates": []interface{}{"2025-06-19T09:00:00Z"}},
		{"id": "c", "name": "The Snow Adventurer", "difficulty": "difficult", "price": 997.0, "duration": 4.0, "createdAt": "2024-03-01T00:00:00Z", "secretTour": true},
		{"id": "d", "name": "The City Wanderer", "difficulty": "easy", "price": 1197.0, "duration": 9.0, "createdAt": "2024-04-01T00:00:00Z"},
		{"id": "e", "name": "The Park Camper", "difficulty": "easy", "price": 1497.0, "duration": 10.0, "createdAt": "2024-05-01T00:00:00Z"},
		{"id": "f", "name": "The Sports Lover", "difficulty": "difficult", "price": 2997.0, "duration": 14.0, "createdAt": "2024-06-01T00:00:00Z"},
	}
}

func ids(docs []map[string]interface{}, idx []int) []string {
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, docs[i]["id"].(string))
	}
	return out
}

func TestParseDefaults(t *testing.T) {
	spec, err := Parse(map[string]string{}, tourSchema)
	require.NoError(t, err)

	assert.Empty(t, spec.Filter)
	assert.Equal(t, []SortKey{{Field: "createdAt", Desc: true}}, spec.Sort)
	assert.Equal(t, DefaultProjection, spec.Projection)
	assert.Equal(t, 1, spec.Page)
	assert.Equal(t, 100, spec.Limit)
	assert.Equal(t, 0, spec.Skip())
}

func TestParseFilterOperators(t *testing.T) {
	spec, err := Parse(map[string]string{
		"difficulty":      "easy",
		"price[gte]":      "500",
		"duration[lt]":    "10",
		"page":            "2",
		"sort":            "price",
		"limit":           "3",
		"fields":          "name,price",
		"difficulty[foo]": "x",
	}, tourSchema)
	require.NoError(t, err)

	assert.Equal(t, Filter{
		{Field: "difficulty", Op: OpEq, Value: "easy"},
		{Field: "difficulty[foo]", Op: OpEq, Value: "x"},
		{Field: "duration", Op: OpLt, Value: 10.0},
		{Field: "price", Op: OpGte, Value: 500.0},
	}, spec.Filter)
	assert.Equal(t, 3, spec.Skip())
	assert.Equal(t, []string{"name", "price"}, spec.Projection.Include)
}

func TestParseCastError(t *testing.T) {
	_, err := Parse(map[string]string{"price[gt]": "cheap"}, tourSchema)
	require.Error(t, err)

	var castErr *CastError
	require.ErrorAs(t, err, &castErr)
	assert.Equal(t, "price", castErr.Path)
	assert.Equal(t, "Invalid price: cheap.", castErr.Error())

	_, err = Parse(map[string]string{"id": "not-a-uuid"}, tourSchema)
	assert.ErrorAs(t, err, &castErr)
}

func TestParseDropsHiddenFields(t *testing.T) {
	spec, err := Parse(map[string]string{"password": "secret"}, tourSchema)
	require.NoError(t, err)
	assert.Empty(t, spec.Filter)
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		page, limit       string
		wantPage, wantLim int
	}{
		{"0", "0", 1, 100},
		{"-3", "-1", 1, 100},
		{"abc", "xyz", 1, 100},
		{"4", "5000", 4, MaxLimit},
		{"2", "10", 2, 10},
	}
	for _, tt := range tests {
		spec, err := Parse(map[string]string{"page": tt.page, "limit": tt.limit}, tourSchema)
		require.NoError(t, err)
		assert.Equal(t, tt.wantPage, spec.Page, "page=%s", tt.page)
		assert.Equal(t, tt.wantLim, spec.Limit, "limit=%s", tt.limit)
	}
}

func TestParseProjectionMixed(t *testing.T) {
	_, err := Parse(map[string]string{"fields": "name,-price"}, tourSchema)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestSelectEasyToursByPriceDescending(t *testing.T) {
	docs := tours()
	spec, err := Parse(map[string]string{
		"difficulty": "easy",
		"sort":       "-price",
		"limit":      "2",
		"page":       "1",
	}, tourSchema)
	require.NoError(t, err)

	idx := Select(docs, spec.Query(tourSchema))
	assert.Equal(t, []string{"e", "d"}, ids(docs, idx))
}

func TestSelectPagePastTheEnd(t *testing.T) {
	docs := tours()
	spec, err := Parse(map[string]string{"page": "10", "limit": "2"}, tourSchema)
	require.NoError(t, err)

	idx := Select(docs, spec.Query(tourSchema))
	assert.Empty(t, idx)
	assert.NotNil(t, idx)
}

func TestSelectRangeAndScope(t *testing.T) {
	docs := tours()
	spec, err := Parse(map[string]string{"price[gte]": "997", "sort": "price"}, tourSchema)
	require.NoError(t, err)

	idx := Select(docs, spec.Query(tourSchema, Ne("secretTour", true)))
	assert.Equal(t, []string{"d", "e", "f"}, ids(docs, idx))
}

func TestSelectDefaultSortNewestFirst(t *testing.T) {
	docs := tours()
	spec, err := Parse(map[string]string{"limit": "3"}, tourSchema)
	require.NoError(t, err)

	idx := Select(docs, spec.Query(tourSchema))
	assert.Equal(t, []string{"f", "e", "d"}, ids(docs, idx))
}

func TestSelectListFieldAnyElement(t *testing.T) {
	docs := tours()
	spec, err := Parse(map[string]string{"startDates[gte]": "2025-07-01"}, tourSchema)
	require.NoError(t, err)

	idx := Select(docs, spec.Query(tourSchema))
	assert.Equal(t, []string{"a"}, ids(docs, idx))
}

func TestSelectMalformedOperatorMatchesNothing(t *testing.T) {
	docs := tours()
	spec, err := Parse(map[string]string{"difficulty[foo]": "easy"}, tourSchema)
	require.NoError(t, err)

	assert.Empty(t, Select(docs, spec.Query(tourSchema)))
}

func TestSelectStableTies(t *testing.T) {
	docs := tours()
	idx := Select(docs, Query{Sort: []SortKey{{Field: "difficulty"}}})
	assert.Equal(t, []string{"c", "f", "a", "d", "e", "b"}, ids(docs, idx))
}

func TestSelectMissingValuesSortFirst(t *testing.T) {
	docs := tours()
	idx := Select(docs, Query{Sort: []SortKey{{Field: "secretTour"}}, Limit: 2})
	assert.Equal(t, []string{"a", "b"}, ids(docs, idx))
}

func TestMatchIn(t *testing.T) {
	doc := map[string]interface{}{"guides": []interface{}{"g1", "g2"}}
	assert.True(t, Match(doc, Filter{In("guides", "g9", "g2")}))
	assert.False(t, Match(doc, Filter{In("guides", "g9")}))
	assert.True(t, Match(doc, Filter{Ne("guides", "g3")}))
	assert.False(t, Match(doc, Filter{Ne("guides", "g1")}))
	assert.True(t, Match(map[string]interface{}{}, Filter{Ne("active", false)}))
}

func TestProjectionApply(t *testing.T) {
	doc := map[string]interface{}{"id": "a", "name": "n", "price": 1.0, "__v": 0.0}

	p, err := ParseProjection("name")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"id": "a", "name": "n"}, p.Apply(doc))

	p, err = ParseProjection("-price")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"id": "a", "name": "n", "__v": 0.0}, p.Apply(doc))

	assert.NotContains(t, DefaultProjection.Apply(doc), "__v")
	assert.Contains(t, doc, "__v")
}
