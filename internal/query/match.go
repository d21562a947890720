package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Select applies filter, sort, skip and limit to docs and returns the
// positions of the selected documents in output order. Ties keep the
// order of docs.
func Select(docs []map[string]interface{}, q Query) []int {
	idx := make([]int, 0, len(docs))
	for i, doc := range docs {
		if Match(doc, q.Filter) {
			idx = append(idx, i)
		}
	}

	if len(q.Sort) > 0 {
		sort.SliceStable(idx, func(a, b int) bool {
			return lessDoc(docs[idx[a]], docs[idx[b]], q.Sort, q.Schema)
		})
	}

	if q.Skip > 0 {
		if q.Skip >= len(idx) {
			return []int{}
		}
		idx = idx[q.Skip:]
	}
	if q.Limit > 0 && len(idx) > q.Limit {
		idx = idx[:q.Limit]
	}
	return idx
}

// Match reports whether doc satisfies every predicate in f.
func Match(doc map[string]interface{}, f Filter) bool {
	for _, p := range f {
		if !matchPredicate(doc[p.Field], p) {
			return false
		}
	}
	return true
}

func matchPredicate(stored interface{}, p Predicate) bool {
	values := elements(stored)

	switch p.Op {
	case OpNe:
		for _, v := range values {
			if c, ok := compare(v, p.Value); ok && c == 0 {
				return false
			}
		}
		return true
	case OpIn:
		wants, _ := p.Value.([]interface{})
		for _, v := range values {
			for _, want := range wants {
				if c, ok := compare(v, want); ok && c == 0 {
					return true
				}
			}
		}
		return false
	}

	for _, v := range values {
		c, ok := compare(v, p.Value)
		if !ok {
			continue
		}
		switch p.Op {
		case OpEq:
			if c == 0 {
				return true
			}
		case OpGt:
			if c > 0 {
				return true
			}
		case OpGte:
			if c >= 0 {
				return true
			}
		case OpLt:
			if c < 0 {
				return true
			}
		case OpLte:
			if c <= 0 {
				return true
			}
		}
	}
	return false
}

// elements flattens a stored value into the set a predicate is tested
// against. Missing values yield nothing.
func elements(v interface{}) []interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case []interface{}:
		return t
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []interface{}{v}
	}
}

// compare orders a stored value against a wanted one, converting the
// stored side to the wanted type. ok is false when they are incomparable.
func compare(stored, want interface{}) (int, bool) {
	switch w := want.(type) {
	case float64:
		s, ok := toFloat(stored)
		if !ok {
			return 0, false
		}
		return cmpFloat(s, w), true
	case string:
		return strings.Compare(toString(stored), w), true
	case bool:
		s, ok := toBool(stored)
		if !ok {
			return 0, false
		}
		return cmpBool(s, w), true
	case time.Time:
		s, ok := toTime(stored)
		if !ok {
			return 0, false
		}
		return s.Compare(w), true
	default:
		if fmt.Sprint(stored) == fmt.Sprint(want) {
			return 0, true
		}
		return 0, false
	}
}

func lessDoc(a, b map[string]interface{}, keys []SortKey, schema Schema) bool {
	for _, k := range keys {
		c := compareSortValues(first(a[k.Field]), first(b[k.Field]), schema[k.Field].Kind)
		if c == 0 {
			continue
		}
		if k.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}

func first(v interface{}) interface{} {
	if list := elements(v); len(list) > 0 {
		return list[0]
	}
	return nil
}

// compareSortValues orders two stored values. Missing values sort first,
// then numbers, strings and booleans.
func compareSortValues(a, b interface{}, kind Kind) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	if kind == KindTime {
		ta, oka := toTime(a)
		tb, okb := toTime(b)
		if oka && okb {
			return ta.Compare(tb)
		}
	}

	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return cmpFloat(fa, fb)
	case 3:
		ba, _ := toBool(a)
		bb, _ := toBool(b)
		return cmpBool(ba, bb)
	default:
		return strings.Compare(toString(a), toString(b))
	}
}

func rank(v interface{}) int {
	switch v.(type) {
	case float64, float32, int, int64, int32:
		return 1
	case bool:
		return 3
	default:
		return 2
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toBool(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(t)
		return b, err == nil
	default:
		return false, false
	}
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := ParseTime(t)
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
