package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Schema maps field names to their types.
type Schema map[string]Type

// Parse builds a schema from field names and type strings.
func Parse(fields map[string]string) (Schema, error) {
	s := make(Schema, len(fields))
	for name, typ := range fields {
		t, err := ParseType(typ)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		s[name] = t
	}
	return s, nil
}

// FieldError is the failure of one field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

// Errors collects every failing field of one validation.
type Errors []*FieldError

func (e Errors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Error()
	}
	return fmt.Sprintf("%d fields invalid: %s", len(e), strings.Join(parts, "; "))
}

// Unwrap exposes the field errors to errors.As.
func (e Errors) Unwrap() []error {
	out := make([]error, len(e))
	for i, fe := range e {
		out[i] = fe
	}
	return out
}

// Validate checks data against s. Fields s does not name are allowed.
// The error, if any, is an Errors listing the fields in name order.
func (s Schema) Validate(data map[string]any) error {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs Errors
	for _, name := range names {
		typ := s[name]
		v, ok := data[name]
		if !ok || v == nil {
			if !isOptional(typ) {
				errs = append(errs, &FieldError{Field: name, Reason: "required"})
			}
			continue
		}
		if err := typ.Validate(v); err != nil {
			errs = append(errs, &FieldError{Field: name, Reason: err.Error()})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (s Schema) fields() (map[string]string, error) {
	out := make(map[string]string, len(s))
	for name, t := range s {
		if t == nil {
			return nil, fmt.Errorf("field %s: type is nil", name)
		}
		out[name] = t.Name()
	}
	return out, nil
}

// MarshalJSON writes the schema as field names to type strings.
func (s Schema) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	fields, err := s.fields()
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return s.set(fields)
}

// MarshalYAML writes the schema as a mapping of type strings.
func (s Schema) MarshalYAML() (any, error) {
	return s.fields()
}

// UnmarshalYAML reads a mapping of field names to type strings.
func (s *Schema) UnmarshalYAML(node *yaml.Node) error {
	var fields map[string]string
	if err := node.Decode(&fields); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return s.set(fields)
}

func (s *Schema) set(fields map[string]string) error {
	if fields == nil {
		*s = nil
		return nil
	}
	parsed, err := Parse(fields)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
