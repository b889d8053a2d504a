package schema

import (
	"math"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Dependency is a single depends-on edge: the parameter is enabled only when
// Key holds Value (or, for string values, one of its comma separated
// alternatives).
type Dependency struct {
	Key   string
	Value any
}

// Alternatives returns the accepted values for a string dependency.
func (d Dependency) Alternatives() ([]string, bool) {
	s, ok := d.Value.(string)
	if !ok {
		return nil, false
	}
	return SplitAlternatives(s), true
}

// Preferred returns the value used when the dependency is satisfied
// implicitly: the first alternative of a list, otherwise the value itself.
func (d Dependency) Preferred() any {
	if alts, ok := d.Alternatives(); ok && len(alts) > 1 {
		return alts[0]
	}
	return d.Value
}

// Descriptor is the parsed metadata of a single parameter.
type Descriptor struct {
	Type             string
	Description      string
	Default          any
	HasDefault       bool
	Min              *float64
	Max              *float64
	MinExact         *decimal.Decimal
	MaxExact         *decimal.Decimal
	Enum             []any
	DependsOn        []Dependency
	RequiredSimTypes map[string]any
}

// DescriptorOf parses raw parameter metadata. Non-object entries such as
// a blob's class name or Sim_Types list yield false.
func DescriptorOf(raw any) (Descriptor, bool) {
	blob, ok := raw.(map[string]any)
	if !ok {
		return Descriptor{}, false
	}
	var d Descriptor
	d.Type, _ = blob[KeyType].(string)
	d.Description, _ = blob[KeyDescription].(string)
	d.Default, d.HasDefault = blob[KeyDefault]
	if v, ok := Number(blob[KeyMin]); ok {
		d.Min = &v
	}
	if v, ok := Decimal(blob[KeyMin]); ok {
		d.MinExact = &v
	}
	if v, ok := Number(blob[KeyMax]); ok {
		d.Max = &v
	}
	if v, ok := Decimal(blob[KeyMax]); ok {
		d.MaxExact = &v
	}
	if enum, ok := blob[KeyEnum].([]any); ok {
		d.Enum = enum
	}
	if deps, ok := blob[KeyDependsOn].(map[string]any); ok {
		for _, key := range SortedKeys(deps) {
			d.DependsOn = append(d.DependsOn, Dependency{Key: key, Value: deps[key]})
		}
	}
	if req, ok := blob[KeyRequiredSimTypes].(map[string]any); ok {
		d.RequiredSimTypes = req
	}
	return d, true
}

// IsNumeric reports whether the parameter holds an integer or float.
func (d Descriptor) IsNumeric() bool {
	return d.Type == "integer" || d.Type == "float"
}

// IsVector reports whether the parameter is a plain vector. Vectors of named
// types are excluded because their elements are nodes.
func (d Descriptor) IsVector() bool {
	return strings.Contains(d.Type, "Vector") && !strings.Contains(d.Type, "idmType")
}

// Number converts JSON-compatible numeric values to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Decimal converts JSON-compatible numeric values to an exact decimal.
// Integers keep every digit; floats use their shortest representation.
// NaN and infinities yield false.
func Decimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(n), true
	case float32:
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int8:
		return decimal.NewFromInt(int64(n)), true
	case int16:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint:
		return decimal.NewFromUint64(uint64(n)), true
	case uint8:
		return decimal.NewFromUint64(uint64(n)), true
	case uint16:
		return decimal.NewFromUint64(uint64(n)), true
	case uint32:
		return decimal.NewFromUint64(uint64(n)), true
	case uint64:
		return decimal.NewFromUint64(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}
