package graph

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dsrkit/dsrkit/pkg/masking"
)

// FieldKind discriminates scalar fields from object fields that own nested fields.
type FieldKind int

const (
	ScalarField FieldKind = iota
	ObjectField
)

func (k FieldKind) String() string {
	if k == ObjectField {
		return "object"
	}
	return "scalar"
}

func (k FieldKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *FieldKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "scalar", "":
		*k = ScalarField
	case "object":
		*k = ObjectField
	default:
		return fmt.Errorf("unknown field kind %q", text)
	}
	return nil
}

// Direction constrains which way data flows along a reference.
type Direction string

const (
	// DirectionNone lets traversal pick the direction.
	DirectionNone Direction = ""
	// DirectionTo means values flow from the declaring field to the referenced field.
	DirectionTo Direction = "to"
	// DirectionFrom means values flow from the referenced field to the declaring field.
	DirectionFrom Direction = "from"
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case DirectionNone, DirectionTo, DirectionFrom:
		return d, nil
	}
	return "", fmt.Errorf("unknown reference direction %q", s)
}

type Reference struct {
	Target    FieldAddress `json:"target"`
	Direction Direction    `json:"direction,omitempty"`
}

// DataType names the converter applied to values before they are used in a query.
type DataType string

const (
	NoOpType     DataType = "no_op"
	StringType   DataType = "string"
	IntegerType  DataType = "integer"
	FloatType    DataType = "float"
	BooleanType  DataType = "boolean"
	ObjectIDType DataType = "object_id"
	ObjectType   DataType = "object"
)

func ParseDataType(s string) (DataType, error) {
	switch t := DataType(strings.ToLower(s)); t {
	case "", NoOpType:
		return NoOpType, nil
	case StringType, IntegerType, FloatType, BooleanType, ObjectIDType, ObjectType:
		return t, nil
	}
	return "", fmt.Errorf("unknown data type %q", s)
}

// Convert coerces v to the data type. ok is false when v cannot be represented.
func (t DataType) Convert(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	if n, isNumber := v.(json.Number); isNumber {
		if i, err := n.Int64(); err == nil {
			v = i
		} else if f, err := n.Float64(); err == nil {
			v = f
		}
	}

	switch t {
	case StringType:
		switch s := v.(type) {
		case string:
			return s, true
		case map[string]any, []any:
			return nil, false
		}
		return fmt.Sprint(v), true
	case IntegerType:
		return toInteger(v)
	case FloatType:
		return toFloat(v)
	case BooleanType:
		return toBoolean(v)
	case ObjectIDType:
		s, isString := v.(string)
		if !isString || len(s) != 24 {
			return nil, false
		}
		if _, err := hex.DecodeString(s); err != nil {
			return nil, false
		}
		return strings.ToLower(s), true
	case ObjectType:
		m, isMap := v.(map[string]any)
		return m, isMap
	}
	return v, true
}

func toInteger(v any) (any, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return nil, false
		}
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	case bool:
		if n {
			return int64(1), true
		}
		return int64(0), true
	}
	return nil, false
}

func toFloat(v any) (any, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return nil, false
}

func toBoolean(v any) (any, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case int64:
		return b != 0, b == 0 || b == 1
	case int:
		return b != 0, b == 0 || b == 1
	case float64:
		return b != 0, b == 0 || b == 1
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	}
	return nil, false
}

// Field is a scalar or object field of a collection. Only object fields own nested Fields.
type Field struct {
	Name                    string          `json:"name"`
	Kind                    FieldKind       `json:"kind"`
	PrimaryKey              bool            `json:"primary_key,omitempty"`
	Identity                string          `json:"identity,omitempty"`
	References              []Reference     `json:"references,omitempty"`
	DataType                DataType        `json:"data_type,omitempty"`
	Length                  int             `json:"length,omitempty"`
	DataCategories          []string        `json:"data_categories,omitempty"`
	MaskingStrategyOverride *masking.Config `json:"masking_strategy_override,omitempty"`
	Fields                  []*Field        `json:"fields,omitempty"`
}

// Cast converts v with the field's data type.
func (f *Field) Cast(v any) (any, bool) {
	return f.DataType.Convert(v)
}

func (f *Field) validate(parent FieldPath) error {
	path := parent.Child(f.Name)
	switch {
	case f.Name == "":
		return fmt.Errorf("%w: field under %q has no name", ErrInvalidGraph, parent)
	case strings.ContainsAny(f.Name, addressSeparator+pathSeparator):
		return fmt.Errorf("%w: field name %q may not contain %q or %q", ErrInvalidGraph, f.Name, addressSeparator, pathSeparator)
	case f.Kind == ObjectField && len(f.Fields) == 0:
		return fmt.Errorf("%w: object field %q has no fields", ErrInvalidGraph, path)
	case f.Kind == ScalarField && len(f.Fields) > 0:
		return fmt.Errorf("%w: scalar field %q has nested fields", ErrInvalidGraph, path)
	case f.Length < 0:
		return fmt.Errorf("%w: field %q has a negative length", ErrInvalidGraph, path)
	}

	if _, err := ParseDataType(string(f.DataType)); err != nil {
		return fmt.Errorf("%w: field %q: %v", ErrInvalidGraph, path, err)
	}
	for _, ref := range f.References {
		if _, err := ParseDirection(string(ref.Direction)); err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrInvalidGraph, path, err)
		}
	}

	return validateFieldNames(f.Fields, path)
}

func validateFieldNames(fields []*Field, parent FieldPath) error {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, ok := seen[f.Name]; ok {
			return fmt.Errorf("%w: duplicate field name %q under %q", ErrInvalidGraph, f.Name, parent)
		}
		seen[f.Name] = struct{}{}
		if err := f.validate(parent); err != nil {
			return err
		}
	}
	return nil
}

// validateName rejects dataset and collection names that would not survive a
// round trip through CollectionAddress.String and ParseCollectionAddress.
func validateName(kind, name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: %s has no name", ErrInvalidGraph, kind)
	case strings.ContainsAny(name, addressSeparator+pathSeparator):
		return fmt.Errorf("%w: %s name %q may not contain %q or %q", ErrInvalidGraph, kind, name, addressSeparator, pathSeparator)
	}
	return nil
}
