package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Type validates one field value.
type Type interface {
	// Name returns the type name as written in a flow, e.g. "string" or "[int]".
	Name() string
	Validate(value any) error
}

type stringType struct{}

func (stringType) Name() string { return "string" }

func (stringType) Validate(value any) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	return nil
}

type intType struct{}

func (intType) Name() string { return "int" }

func (intType) Validate(value any) error {
	switch v := value.(type) {
	case int, int8, int16, int32, int64:
		return nil
	case float64:
		if v == float64(int64(v)) {
			return nil
		}
		return fmt.Errorf("expected int, got float (not a whole number)")
	default:
		return fmt.Errorf("expected int, got %T", value)
	}
}

type floatType struct{}

func (floatType) Name() string { return "float" }

func (floatType) Validate(value any) error {
	switch value.(type) {
	case float32, float64, int, int8, int16, int32, int64:
		return nil
	default:
		return fmt.Errorf("expected float, got %T", value)
	}
}

type boolType struct{}

func (boolType) Name() string { return "bool" }

func (boolType) Validate(value any) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("expected bool, got %T", value)
	}
	return nil
}

type objectType struct{}

func (objectType) Name() string { return "object" }

func (objectType) Validate(value any) error {
	if _, ok := value.(map[string]any); !ok {
		return fmt.Errorf("expected object, got %T", value)
	}
	return nil
}

type anyType struct{}

func (anyType) Name() string { return "any" }

func (anyType) Validate(any) error { return nil }

type listType struct {
	elem Type
}

func (t listType) Name() string { return "[" + t.elem.Name() + "]" }

func (t listType) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Errorf("expected list, got %T", value)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := t.elem.Validate(rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// optionalType accepts a missing or null field.
type optionalType struct {
	Type
}

func (t optionalType) Name() string { return t.Type.Name() + "?" }

func (t optionalType) Validate(value any) error {
	if value == nil {
		return nil
	}
	return t.Type.Validate(value)
}

func String() Type { return stringType{} }
func Int() Type    { return intType{} }
func Float() Type  { return floatType{} }
func Bool() Type   { return boolType{} }
func Object() Type { return objectType{} }
func Any() Type    { return anyType{} }

// List validates a list whose elements are all of type elem.
func List(elem Type) Type { return listType{elem: elem} }

// Optional lets the field be absent or null.
func Optional(t Type) Type {
	if _, ok := t.(optionalType); ok {
		return t
	}
	return optionalType{t}
}

// IsOptional reports whether a missing field passes t.
func IsOptional(t Type) bool {
	_, ok := t.(optionalType)
	return ok
}

// ParseType converts a type name to a Type.
func ParseType(name string) (Type, error) {
	name = strings.TrimSpace(name)
	if base, ok := strings.CutSuffix(name, "?"); ok {
		t, err := ParseType(base)
		if err != nil {
			return nil, err
		}
		return Optional(t), nil
	}
	if len(name) > 2 && name[0] == '[' && name[len(name)-1] == ']' {
		elem, err := ParseType(name[1 : len(name)-1])
		if err != nil {
			return nil, err
		}
		return List(elem), nil
	}
	switch name {
	case "string":
		return String(), nil
	case "int":
		return Int(), nil
	case "float", "number":
		return Float(), nil
	case "bool", "boolean":
		return Bool(), nil
	case "object":
		return Object(), nil
	case "any", "":
		return Any(), nil
	default:
		return nil, fmt.Errorf("unsupported type %q", name)
	}
}

// Schema maps field names to their types.
type Schema map[string]Type

// Parse builds a schema from declared field type names.
func Parse(fields map[string]string) (Schema, error) {
	out := make(Schema, len(fields))
	for _, key := range sortedKeys(fields) {
		t, err := ParseType(fields[key])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		out[key] = t
	}
	return out, nil
}

// Names returns the type name of every field, the inverse of Parse.
func (s Schema) Names() map[string]string {
	out := make(map[string]string, len(s))
	for k, t := range s {
		out[k] = t.Name()
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
