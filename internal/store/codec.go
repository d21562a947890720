package store

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

func encode(doc Document) (item, error) {
	av, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return av, nil
}

// plain decodes an item into generic values for query evaluation.
func plain(it item) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := attributevalue.UnmarshalMap(it, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return m, nil
}

// indexKey joins the index attributes of doc. ok is false when any of
// them is missing or empty.
func indexKey(doc map[string]interface{}, idx Index) (string, bool) {
	parts := make([]string, 0, len(idx))
	for _, f := range idx {
		v, present := doc[f]
		if !present || v == nil {
			return "", false
		}
		s := fmt.Sprint(v)
		if s == "" {
			return "", false
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", "), true
}
