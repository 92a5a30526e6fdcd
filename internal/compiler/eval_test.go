package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	vars  map[string]any
	funcs map[string]Func
}

func (e testEnv) Lookup(name string) (any, bool) {
	v, ok := e.vars[name]
	return v, ok
}

func (e testEnv) Function(name string) (Func, bool) {
	f, ok := e.funcs[name]
	return f, ok
}

func TestEval(t *testing.T) {
	env := testEnv{vars: map[string]any{
		"turn": map[string]any{
			"oauth":     map[string]any{"token": "abc123"},
			"Confirmed": true,
			"activity": map[string]any{
				"recipient":    map[string]any{"name": "bot"},
				"membersAdded": []any{map[string]any{"name": "bot"}, map[string]any{"name": "Ann"}},
			},
		},
		"dialog": map[string]any{"foreach": map[string]any{"value": map[string]any{"name": "Ann"}, "index": 1}},
		"count":  3,
		"empty":  "",
		"list":   []string{"a", "b"},
	}}

	tests := []struct {
		src  string
		want any
	}{
		{"turn.oauth.token && length(turn.oauth.token) > 0", true},
		{"turn.missing.token && length(turn.missing.token) > 0", false},
		{"=turn.Confirmed", true},
		{"$foreach.value.name != turn.activity.recipient.name", true},
		{"turn.activity.membersAdded[0].name == turn.activity.recipient.name", true},
		{"turn.activity.membersAdded[5].name", nil},
		{"count == 3.0", true},
		{"count >= 3 && count < 4", true},
		{"!empty", true},
		{"empty(list)", false},
		{"length(list)", float64(2)},
		{"exists(nope)", false},
		{"toUpper('ok') + '!'", "OK!"},
		{"count + 1", float64(4)},
		{"nope + 1", float64(1)},
		{"concat('n=', count)", "n=3"},
		{"if(turn.Confirmed, 'yes', 'no')", "yes"},
		{"'b' > 'a'", true},
		{"null == nope", true},
		{"$foreach.index", 1},
		{"not(0)", true},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			v, err := MustCompile(tt.src).Eval(env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestEval_Errors(t *testing.T) {
	env := MapEnv{"s": "x", "n": 1.0}
	for _, src := range []string{
		"s < n",
		"unknownFn(1)",
		"length(n)",
		"-s",
		"toLower()",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := MustCompile(src).Eval(env)
			require.Error(t, err)
			var ee *EvalError
			assert.True(t, errors.As(err, &ee))
		})
	}
}

func TestEval_ShortCircuit(t *testing.T) {
	calls := 0
	env := testEnv{funcs: map[string]Func{
		"boom": func([]any) (any, error) { calls++; return nil, errors.New("boom") },
	}}
	ok, err := MustCompile("false && boom()").EvalBool(env)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = MustCompile("true || boom()").EvalBool(env)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, calls)
}

func TestEval_HostFunction(t *testing.T) {
	env := testEnv{funcs: map[string]Func{
		"Greet": func(args []any) (any, error) { return "hi " + Format(args[0]), nil },
		// Builtins always win over host functions with the same name.
		"length": func([]any) (any, error) { return -1, nil },
	}}
	v, err := MustCompile("Greet('ann')").Eval(env)
	require.NoError(t, err)
	assert.Equal(t, "hi ann", v)

	v, err = MustCompile("length('abc')").Eval(env)
	require.NoError(t, err)
	assert.Equal(t, float64(3), v)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy([]any{}))
	assert.False(t, Truthy(map[string]any{}))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy(0.5))
	assert.True(t, Truthy([]string{"a"}))
	assert.True(t, Truthy(struct{}{}))
}

func TestProperty_Struct(t *testing.T) {
	type account struct{ Name string }
	assert.Equal(t, "Ann", Property(account{Name: "Ann"}, "Name"))
	assert.Equal(t, "Ann", Property(&account{Name: "Ann"}, "Name"))
	assert.Nil(t, Property(account{}, "Missing"))
	assert.Equal(t, 2, Property(map[string]int{"a": 2}, "a"))
}
