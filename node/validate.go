package node

import (
	"fmt"
	"reflect"

	"github.com/kfrey-idm/emod-api-sub000/schema"
)

// validate checks value against the descriptor and returns the value to
// store. Bool parameters are normalised to 0 or 1.
func validate(key string, value any, desc schema.Descriptor) (any, error) {
	switch {
	case desc.IsNumeric():
		return validateNumber(key, value, desc)
	case desc.Type == "enum":
		for _, allowed := range desc.Enum {
			if equalValues(allowed, value) {
				return value, nil
			}
		}
		return nil, &ValidationError{Key: key, Value: value, Constraint: fmt.Sprintf("not in list of possible values %v", desc.Enum)}
	case desc.Type == "bool":
		return normalizeBool(key, value)
	case desc.IsVector():
		if !isSequence(value) {
			return nil, &ValidationError{Key: key, Value: value, Constraint: fmt.Sprintf("value needs to be a list for type %s", desc.Type)}
		}
		return value, nil
	default:
		return value, nil
	}
}

func validateNumber(key string, value any, desc schema.Descriptor) (any, error) {
	if _, isString := value.(string); isString {
		return nil, &ValidationError{Key: key, Value: value, Constraint: fmt.Sprintf("is string when needs to be %s", desc.Type)}
	}
	exact, ok := schema.Decimal(value)
	if !ok {
		if _, numeric := schema.Number(value); numeric {
			return nil, &ValidationError{Key: key, Value: value, Constraint: "must be a finite number"}
		}
		return nil, &ValidationError{Key: key, Value: value, Constraint: fmt.Sprintf("is %T when needs to be %s", value, desc.Type)}
	}
	if desc.MinExact != nil && exact.LessThan(*desc.MinExact) {
		return nil, &ValidationError{Key: key, Value: value, Constraint: fmt.Sprintf("below minimum %s", desc.MinExact)}
	}
	if desc.MaxExact != nil && exact.GreaterThan(*desc.MaxExact) {
		return nil, &ValidationError{Key: key, Value: value, Constraint: fmt.Sprintf("above maximum %s", desc.MaxExact)}
	}
	return value, nil
}

func normalizeBool(key string, value any) (any, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		if number, ok := schema.Number(value); ok {
			switch number {
			case 0:
				return 0, nil
			case 1:
				return 1, nil
			}
		}
	}
	return nil, &ValidationError{Key: key, Value: value, Constraint: "value needs to be a bool (true, false, 0 or 1)"}
}

func isSequence(value any) bool {
	if value == nil {
		return false
	}
	kind := reflect.TypeOf(value).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}

// equalValues compares JSON-compatible values, treating numbers of any Go
// type as equal when they hold the same quantity.
func equalValues(a, b any) bool {
	if x, ok := schema.Number(a); ok {
		if y, ok := schema.Number(b); ok {
			return x == y
		}
		return false
	}
	if _, ok := schema.Number(b); ok {
		return false
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case nil:
		return b == nil
	}
	return reflect.DeepEqual(a, b)
}

func matchesAlternative(value any, alternatives []string) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	for _, alt := range alternatives {
		if s == alt {
			return true
		}
	}
	return false
}
