package schema_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/aretw0/parley/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTypes(t *testing.T) {
	tests := []struct {
		typ  string
		ok   []any
		fail []any
	}{
		{"string", []any{"", "x"}, []any{1, true}},
		{"int", []any{1, int64(2), float64(3), json.Number("4")}, []any{1.5, "1", json.Number("1.5")}},
		{"float", []any{1, 1.5, json.Number("2.5")}, []any{"1", false}},
		{"bool", []any{true, false}, []any{"true", 0}},
		{"object", []any{map[string]any{}, map[string]int{"a": 1}}, []any{[]any{}, map[int]any{}}},
		{"[string]", []any{[]any{"a", "b"}, []string{}}, []any{[]any{"a", 1}, "a"}},
		{"[[int]]", []any{[]any{[]any{1}}}, []any{[]any{1}}},
		{"any", []any{1, "x"}, []any{nil}},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			typ, err := schema.ParseType(tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, typ.Name())
			for _, v := range tt.ok {
				assert.NoError(t, typ.Validate(v), "%#v", v)
			}
			for _, v := range tt.fail {
				assert.Error(t, typ.Validate(v), "%#v", v)
			}
		})
	}
}

func TestParseType_Errors(t *testing.T) {
	for _, s := range []string{"", "uuid", "[string", "[]"} {
		_, err := schema.ParseType(s)
		assert.Error(t, err, s)
	}
}

func TestValidate(t *testing.T) {
	s, err := schema.Parse(map[string]string{
		"city":  "string",
		"temp":  "float",
		"tags":  "[string]",
		"note":  "string?",
		"count": "int",
	})
	require.NoError(t, err)

	assert.NoError(t, s.Validate(map[string]any{
		"city": "Lisbon", "temp": 21.5, "tags": []any{"sunny"}, "count": 2, "extra": true,
	}))

	err = s.Validate(map[string]any{"city": 7, "temp": 1, "tags": []any{}, "note": 3})
	require.Error(t, err)

	var errs schema.Errors
	require.ErrorAs(t, err, &errs)
	require.Len(t, errs, 3)
	assert.Equal(t, "city", errs[0].Field)
	assert.Equal(t, "count", errs[1].Field)
	assert.Equal(t, "required", errs[1].Reason)
	assert.Equal(t, "note", errs[2].Field)
	assert.Contains(t, err.Error(), "3 fields invalid")

	var fe *schema.FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "city", fe.Field)

	assert.NoError(t, schema.Schema(nil).Validate(nil))
}

func TestEncoding(t *testing.T) {
	var fromYAML struct {
		Returns schema.Schema `yaml:"returns"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("returns:\n  city: string\n  tags: \"[string]\"\n  note: int?\n"), &fromYAML))
	require.Len(t, fromYAML.Returns, 3)
	assert.Equal(t, "int?", fromYAML.Returns["note"].Name())

	data, err := json.Marshal(fromYAML.Returns)
	require.NoError(t, err)
	assert.JSONEq(t, `{"city":"string","tags":"[string]","note":"int?"}`, string(data))

	var fromJSON schema.Schema
	require.NoError(t, json.Unmarshal(data, &fromJSON))
	assert.Equal(t, "[string]", fromJSON["tags"].Name())

	err = yaml.Unmarshal([]byte("returns:\n  city: date\n"), &fromYAML)
	assert.ErrorContains(t, err, "unsupported type")
}
