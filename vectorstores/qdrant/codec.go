package qdrant

import (
	"fmt"
	"math"
	"sort"

	"github.com/qdrant/go-client/qdrant"

	"github.com/mr-good-bye/chroma-nodes/schema"
	"github.com/mr-good-bye/chroma-nodes/vectorstores"
)

func (s *Store) documentToPayload(doc schema.Document, namespace string) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(doc.Metadata)+2)
	for key, value := range doc.Metadata {
		payload[key] = toQdrantValue(value)
	}
	payload[s.options.contentKey] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: doc.PageContent}}
	if namespace != "" {
		payload[s.options.namespaceKey] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: namespace}}
	}
	return payload
}

func (s *Store) payloadToDocument(payload map[string]*qdrant.Value) schema.Document {
	doc := schema.Document{Metadata: make(map[string]any, len(payload))}
	for key, value := range payload {
		if key == s.options.contentKey {
			doc.PageContent = value.GetStringValue()
			continue
		}
		doc.Metadata[key] = fromQdrantValue(value)
	}
	return doc
}

func toQdrantValue(value any) *qdrant.Value {
	switch v := value.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(v)}}
	case int32:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(v)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: v}}
	case float32:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(v)}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: v}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: v}}
	case []string:
		values := make([]*qdrant.Value, len(v))
		for i, str := range v {
			values[i] = toQdrantValue(str)
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
	case []any:
		values := make([]*qdrant.Value, len(v))
		for i, item := range v {
			values[i] = toQdrantValue(item)
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
	case map[string]any:
		fields := make(map[string]*qdrant.Value, len(v))
		for key, item := range v {
			fields[key] = toQdrantValue(item)
		}
		return &qdrant.Value{Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: fields}}}
	case nil:
		return &qdrant.Value{Kind: &qdrant.Value_NullValue{}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", v)}}
	}
}

func fromQdrantValue(value *qdrant.Value) any {
	switch v := value.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		list := make([]any, len(v.ListValue.GetValues()))
		for i, val := range v.ListValue.GetValues() {
			list[i] = fromQdrantValue(val)
		}
		return list
	case *qdrant.Value_StructValue:
		fields := make(map[string]any, len(v.StructValue.GetFields()))
		for key, val := range v.StructValue.GetFields() {
			fields[key] = fromQdrantValue(val)
		}
		return fields
	default:
		return nil
	}
}

// buildFilter combines the namespace partition with the metadata filters.
// All conditions must hold. A filter value that cannot be expressed as a
// condition is an error, never a dropped condition.
func (s *Store) buildFilter(opts vectorstores.Options) (*qdrant.Filter, error) {
	conditions, err := buildConditions(opts.Filters)
	if err != nil {
		return nil, err
	}
	if opts.NameSpace != "" {
		conditions = append(conditions, keywordCondition(s.options.namespaceKey, opts.NameSpace))
	}
	if len(conditions) == 0 {
		return nil, nil
	}
	return &qdrant.Filter{Must: conditions}, nil
}

func keywordCondition(key, value string) *qdrant.Condition {
	return fieldCondition(key, &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}})
}

func fieldCondition(key string, match *qdrant.Match) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{Key: key, Match: match},
		},
	}
}

// isEmptyCondition holds for points without the key, or with a null or
// empty-list value under it.
func isEmptyCondition(key string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_IsEmpty{
			IsEmpty: &qdrant.IsEmptyCondition{Key: key},
		},
	}
}

// buildConditions turns exact-match metadata filters into field conditions
// in key order.
func buildConditions(filters map[string]any) ([]*qdrant.Condition, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conditions := make([]*qdrant.Condition, 0, len(filters))
	for _, key := range keys {
		cond := filterCondition(key, filters[key])
		if cond == nil {
			return nil, fmt.Errorf("%w: key %q has value %v of type %T", ErrUnsupportedFilter, key, filters[key], filters[key])
		}
		conditions = append(conditions, cond)
	}
	return conditions, nil
}

// filterCondition matches value exactly. Fractional numbers have no match
// condition and use a closed range on the value instead.
func filterCondition(key string, value any) *qdrant.Condition {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	default:
		if match := toMatch(value); match != nil {
			return fieldCondition(key, match)
		}
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	if f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
		return fieldCondition(key, toMatch(f))
	}
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{Key: key, Range: &qdrant.Range{Gte: &f, Lte: &f}},
		},
	}
}

func toMatch(value any) *qdrant.Match {
	switch v := value.(type) {
	case string:
		return &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}}
	case int:
		return &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}
	case int64:
		return &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: v}}
	case float64:
		// JSON numbers; only integral values can be matched exactly
		if v != math.Trunc(v) {
			return nil
		}
		return &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}
	case bool:
		return &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: v}}
	case []string:
		return &qdrant.Match{MatchValue: &qdrant.Match_Keywords{Keywords: &qdrant.RepeatedStrings{Strings: v}}}
	case []int64:
		return &qdrant.Match{MatchValue: &qdrant.Match_Integers{Integers: &qdrant.RepeatedIntegers{Integers: v}}}
	case []int:
		ints := make([]int64, len(v))
		for i, n := range v {
			ints[i] = int64(n)
		}
		return &qdrant.Match{MatchValue: &qdrant.Match_Integers{Integers: &qdrant.RepeatedIntegers{Integers: ints}}}
	case []any:
		strs := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil
			}
			strs = append(strs, str)
		}
		return &qdrant.Match{MatchValue: &qdrant.Match_Keywords{Keywords: &qdrant.RepeatedStrings{Strings: strs}}}
	default:
		return nil
	}
}
