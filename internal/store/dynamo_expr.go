package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/natours/api/internal/query"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// maxInOperands is the most values DynamoDB accepts in one IN comparator.
// Larger sets are matched in process only.
const maxInOperands = 100

// filterExpression is the part of a filter DynamoDB can evaluate during
// a scan. Results are always re-matched in process, so predicates that
// cannot be expressed exactly are left out.
type filterExpression struct {
	Expression string
	Names      map[string]string
	Values     map[string]types.AttributeValue
}

func buildFilter(f query.Filter, schema query.Schema) filterExpression {
	var (
		clauses []string
		names   = map[string]string{}
		values  = map[string]types.AttributeValue{}
	)

	for i, p := range f {
		field, known := schema[p.Field]
		if !known || field.List || field.Kind == query.KindTime {
			continue
		}

		name := fmt.Sprintf("#f%d", i)
		var clause string

		switch p.Op {
		case query.OpIn:
			wants, _ := p.Value.([]interface{})
			if len(wants) == 0 || len(wants) > maxInOperands {
				continue
			}
			placeholders := make([]string, 0, len(wants))
			ok := true
			for j, w := range wants {
				av, valid := scalar(w, field.Kind)
				if !valid {
					ok = false
					break
				}
				ph := fmt.Sprintf(":v%d_%d", i, j)
				values[ph] = av
				placeholders = append(placeholders, ph)
			}
			if !ok {
				for _, ph := range placeholders {
					delete(values, ph)
				}
				continue
			}
			clause = fmt.Sprintf("%s IN (%s)", name, strings.Join(placeholders, ", "))
		default:
			av, valid := scalar(p.Value, field.Kind)
			if !valid {
				continue
			}
			op, supported := comparators[p.Op]
			if !supported {
				continue
			}
			ph := fmt.Sprintf(":v%d", i)
			values[ph] = av
			clause = fmt.Sprintf("%s %s %s", name, op, ph)
			if p.Op == query.OpNe {
				clause = fmt.Sprintf("(attribute_not_exists(%s) OR %s)", name, clause)
			}
		}

		names[name] = p.Field
		clauses = append(clauses, clause)
	}

	if len(clauses) == 0 {
		return filterExpression{}
	}
	return filterExpression{
		Expression: strings.Join(clauses, " AND "),
		Names:      names,
		Values:     values,
	}
}

var comparators = map[query.Op]string{
	query.OpEq:  "=",
	query.OpNe:  "<>",
	query.OpGt:  ">",
	query.OpGte: ">=",
	query.OpLt:  "<",
	query.OpLte: "<=",
}

// scalar encodes v when its type is the one stored for kind.
func scalar(v interface{}, kind query.Kind) (types.AttributeValue, bool) {
	switch t := v.(type) {
	case string:
		if kind != query.KindString && kind != query.KindID {
			return nil, false
		}
		return &types.AttributeValueMemberS{Value: t}, true
	case float64:
		if kind != query.KindNumber {
			return nil, false
		}
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(t, 'f', -1, 64)}, true
	case bool:
		if kind != query.KindBool {
			return nil, false
		}
		return &types.AttributeValueMemberBOOL{Value: t}, true
	default:
		return nil, false
	}
}
