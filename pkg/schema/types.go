package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Type validates one field value.
type Type interface {
	// Name returns the type as written in a schema ("string", "[int]").
	Name() string
	// Validate checks that value conforms to the type.
	Validate(value any) error
}

type scalar struct {
	name  string
	check func(any) bool
}

func (s scalar) Name() string { return s.name }

func (s scalar) Validate(value any) error {
	if !s.check(value) {
		return fmt.Errorf("expected %s, got %T", s.name, value)
	}
	return nil
}

// String accepts strings.
func String() Type {
	return scalar{name: "string", check: func(v any) bool {
		_, ok := v.(string)
		return ok
	}}
}

// Bool accepts booleans.
func Bool() Type {
	return scalar{name: "bool", check: func(v any) bool {
		_, ok := v.(bool)
		return ok
	}}
}

// Int accepts integers, including whole numbers decoded from JSON as float64 or json.Number.
func Int() Type {
	return scalar{name: "int", check: func(v any) bool {
		switch n := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return n == float64(int64(n))
		case json.Number:
			_, err := n.Int64()
			return err == nil
		}
		return false
	}}
}

// Float accepts any number.
func Float() Type {
	return scalar{name: "float", check: func(v any) bool {
		switch n := v.(type) {
		case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case json.Number:
			_, err := n.Float64()
			return err == nil
		}
		return false
	}}
}

// Object accepts maps with string keys.
func Object() Type {
	return scalar{name: "object", check: func(v any) bool {
		rv := reflect.ValueOf(v)
		return rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String
	}}
}

// Any accepts every value except nil.
func Any() Type {
	return scalar{name: "any", check: func(v any) bool { return v != nil }}
}

type list struct{ elem Type }

// List accepts slices whose elements all conform to elem.
func List(elem Type) Type { return list{elem: elem} }

func (l list) Name() string { return "[" + l.elem.Name() + "]" }

func (l list) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if value == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return fmt.Errorf("expected %s, got %T", l.Name(), value)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := l.elem.Validate(rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

type optional struct{ Type }

// Optional lets the field be missing or null; present values must conform to t.
func Optional(t Type) Type { return optional{Type: t} }

func (o optional) Name() string { return o.Type.Name() + "?" }

func isOptional(t Type) bool {
	_, ok := t.(optional)
	return ok
}

// ParseType parses a type string such as "int", "[string]" or "float?".
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutSuffix(s, "?"); ok {
		t, err := ParseType(rest)
		if err != nil {
			return nil, err
		}
		return Optional(t), nil
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		elem, err := ParseType(s[1 : len(s)-1])
		if err != nil {
			return nil, err
		}
		return List(elem), nil
	}
	switch s {
	case "string":
		return String(), nil
	case "int":
		return Int(), nil
	case "float", "number":
		return Float(), nil
	case "bool":
		return Bool(), nil
	case "object":
		return Object(), nil
	case "any":
		return Any(), nil
	}
	return nil, fmt.Errorf("unsupported type %q", s)
}
