package intent

import (
	"fmt"
	"math"

	"graphql-cypher/internal/schema"
)

// NormalizeValue coerces an input value to the representation of its field
// type. Integers are boxed as int64 so the driver sends them as Cypher
// integers rather than floats.
func NormalizeValue(field *schema.Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if field.List {
		if items, ok := value.([]any); ok {
			return normalizeList(field.Type, items, field.Name)
		}
	}
	return normalizeScalar(field.Type, value, field.Name)
}

// normalizeElement coerces a single element of a list field.
func normalizeElement(field *schema.Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	return normalizeScalar(field.Type, value, field.Name)
}

func normalizeList(typ schema.ScalarType, items []any, name string) (any, error) {
	out := make([]any, 0, len(items))
	for _, item := range items {
		v, err := normalizeScalar(typ, item, name)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func normalizeScalar(typ schema.ScalarType, value any, name string) (any, error) {
	switch typ {
	case schema.TypeInt:
		return toInt64(value, name)
	case schema.TypeFloat:
		return toFloat64(value, name)
	case schema.TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, invalidf("field %s expects a boolean, got %T", name, value)
		}
		return b, nil
	case schema.TypeID:
		switch v := value.(type) {
		case string:
			return v, nil
		case int, int32, int64:
			return fmt.Sprint(v), nil
		}
		return nil, invalidf("field %s expects an ID, got %T", name, value)
	default:
		s, ok := value.(string)
		if !ok {
			return nil, invalidf("field %s expects a string, got %T", name, value)
		}
		return s, nil
	}
}

func toInt64(value any, name string) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, invalidf("field %s expects an integer, got %v", name, v)
		}
		return int64(v), nil
	}
	return 0, invalidf("field %s expects an integer, got %T", name, value)
}

func toFloat64(value any, name string) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, invalidf("field %s expects a number, got %T", name, value)
}
