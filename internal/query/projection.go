package query

import (
	"strings"

	apperrors "github.com/natours/api/pkg/errors"
)

// Projection selects response fields. Include and Exclude are never both
// set.
type Projection struct {
	Include []string
	Exclude []string
}

// DefaultProjection hides the internal version counter.
var DefaultProjection = Projection{Exclude: []string{"__v"}}

// ParseProjection reads "a,b" (inclusion) or "-a,-b" (exclusion) lists.
func ParseProjection(raw string) (Projection, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultProjection, nil
	}

	var p Projection
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" || part == "-" {
			continue
		}
		if strings.HasPrefix(part, "-") {
			p.Exclude = append(p.Exclude, part[1:])
		} else {
			p.Include = append(p.Include, part)
		}
	}

	if len(p.Include) > 0 && len(p.Exclude) > 0 {
		return Projection{}, apperrors.NewAppError(apperrors.CodeValidation,
			"Invalid input data. Cannot mix field inclusion and exclusion in fields", nil)
	}
	if len(p.Include) == 0 && len(p.Exclude) == 0 {
		return DefaultProjection, nil
	}
	return p, nil
}

// Apply returns a copy of doc narrowed to the projection. Inclusion lists
// always keep "id".
func (p Projection) Apply(doc map[string]interface{}) map[string]interface{} {
	if len(p.Include) > 0 {
		out := make(map[string]interface{}, len(p.Include)+1)
		if id, ok := doc["id"]; ok {
			out["id"] = id
		}
		for _, f := range p.Include {
			if v, ok := doc[f]; ok {
				out[f] = v
			}
		}
		return out
	}

	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	for _, f := range p.Exclude {
		delete(out, f)
	}
	return out
}
