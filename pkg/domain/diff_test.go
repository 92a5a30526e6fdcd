package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff(t *testing.T) {
	tests := []struct {
		name     string
		old      Record
		new      Record
		wantDiff *StateDiff // nil means no changes
	}{
		{
			name:     "Initial Load (Old is Nil)",
			old:      nil,
			new:      Record{"a": 1},
			wantDiff: &StateDiff{ID: "conversation/test/c1", Set: map[string]any{"a": 1}},
		},
		{
			name:     "No Changes",
			old:      Record{"a": 1, "nested": map[string]any{"x": []any{1, 2}}},
			new:      Record{"a": 1, "nested": map[string]any{"x": []any{1, 2}}},
			wantDiff: nil,
		},
		{
			name: "Added & Modified",
			old:  Record{"a": 1, "b": "old"},
			new:  Record{"a": 1, "b": "new", "c": true},
			wantDiff: &StateDiff{
				ID:  "conversation/test/c1",
				Set: map[string]any{"b": "new", "c": true},
			},
		},
		{
			name: "Nested value replaced as a whole",
			old:  Record{KeyStack: []any{map[string]any{"kind": "root"}}},
			new:  Record{KeyStack: []any{map[string]any{"kind": "root"}, map[string]any{"kind": "rule"}}},
			wantDiff: &StateDiff{
				ID:  "conversation/test/c1",
				Set: map[string]any{KeyStack: []any{map[string]any{"kind": "root"}, map[string]any{"kind": "rule"}}},
			},
		},
		{
			name:     "Deletion",
			old:      Record{"a": 1, "c": 3, "b": 2},
			new:      Record{"a": 1},
			wantDiff: &StateDiff{ID: "conversation/test/c1", Deleted: []string{"b", "c"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff("conversation/test/c1", tt.old, tt.new)
			if tt.wantDiff == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantDiff, got)
		})
	}
}

func TestStateDiff_Apply(t *testing.T) {
	base := Record{"a": 1, "b": 2}
	next := Record{"a": 10, "c": 3}

	d := Diff("user/test/u1", base, next)
	require.NotNil(t, d)

	assert.Equal(t, next, d.Apply(base))
	assert.Equal(t, Record{"a": 1, "b": 2}, base, "apply must not mutate its input")
	assert.Equal(t, map[string]any{"a": 10, "c": 3}, d.Apply(nil).Public())
}

func TestDiffJSONSerialization(t *testing.T) {
	t.Run("Empty Set Omitted", func(t *testing.T) {
		d := Diff("x", Record{"a": 1, "b": 2}, Record{"a": 1})
		require.NotNil(t, d)

		bytes, err := json.Marshal(d)
		require.NoError(t, err)
		assert.False(t, strings.Contains(string(bytes), `"set"`), "got %s", bytes)
		assert.Contains(t, string(bytes), `"deleted":["b"]`)
	})
}
