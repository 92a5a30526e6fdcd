package compiler

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Func is a function callable from expressions.
type Func func(args []any) (any, error)

// Env supplies the values and host functions an expression can see.
type Env interface {
	// Lookup resolves a bare identifier. ok is false when nothing is bound to name.
	Lookup(name string) (value any, ok bool)
	// Function resolves a host function (e.g. a template). Builtins take precedence.
	Function(name string) (Func, bool)
}

// MapEnv is an Env over a plain map with no host functions.
type MapEnv map[string]any

func (m MapEnv) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

func (m MapEnv) Function(string) (Func, bool) { return nil, false }

// Eval evaluates the expression against env.
// Missing identifiers and properties evaluate to nil rather than failing.
func (e *Expr) Eval(env Env) (any, error) {
	return e.root.eval(env)
}

// EvalBool evaluates the expression and applies Truthy to the result.
func (e *Expr) EvalBool(env Env) (bool, error) {
	v, err := e.Eval(env)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Truthy converts a value to a boolean.
// nil is false; strings are true when non-empty; numbers when non-zero;
// collections when they have at least one element; anything else is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := toNumber(v); ok {
		return f != 0
	}
	if n, ok := lengthOf(v); ok {
		return n > 0
	}
	return true
}

func (n literal) eval(Env) (any, error) { return n.value, nil }

func (n ident) eval(env Env) (any, error) {
	v, _ := env.Lookup(n.name)
	return v, nil
}

func (n member) eval(env Env) (any, error) {
	target, err := n.target.eval(env)
	if err != nil {
		return nil, err
	}
	return Property(target, n.name), nil
}

func (n index) eval(env Env) (any, error) {
	target, err := n.target.eval(env)
	if err != nil {
		return nil, err
	}
	idx, err := n.index.eval(env)
	if err != nil {
		return nil, err
	}
	if s, ok := idx.(string); ok {
		return Property(target, s), nil
	}
	f, ok := toNumber(idx)
	if !ok || f != math.Trunc(f) {
		return nil, &EvalError{Expr: n.String(), Msg: fmt.Sprintf("invalid index %v", idx)}
	}
	return Element(target, int(f)), nil
}

func (n unary) eval(env Env) (any, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "!":
		return !Truthy(v), nil
	case "-":
		f, ok := toNumber(v)
		if !ok {
			return nil, &EvalError{Expr: n.String(), Msg: fmt.Sprintf("cannot negate %T", v)}
		}
		return -f, nil
	}
	return nil, &EvalError{Expr: n.String(), Msg: "unknown operator " + n.op}
}

func (n binary) eval(env Env) (any, error) {
	left, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}

	// Short-circuit operators return booleans, never operands.
	switch n.op {
	case "&&":
		if !Truthy(left) {
			return false, nil
		}
		right, err := n.right.eval(env)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	case "||":
		if Truthy(left) {
			return true, nil
		}
		right, err := n.right.eval(env)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	}

	right, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return Equal(left, right), nil
	case "!=":
		return !Equal(left, right), nil
	case "+":
		lf, lok := toNumber(left)
		rf, rok := toNumber(right)
		// A missing value counts as zero next to a number, so counters need no seeding.
		if left == nil && rok {
			lf, lok = 0, true
		}
		if right == nil && lok {
			rf, rok = 0, true
		}
		if lok && rok {
			return lf + rf, nil
		}
		return Format(left) + Format(right), nil
	case "-":
		lf, lok := toNumber(left)
		rf, rok := toNumber(right)
		if !lok || !rok {
			return nil, &EvalError{Expr: n.String(), Msg: "operands must be numbers"}
		}
		return lf - rf, nil
	case "<", "<=", ">", ">=":
		c, err := compare(left, right)
		if err != nil {
			return nil, &EvalError{Expr: n.String(), Msg: err.Error()}
		}
		switch n.op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}
	return nil, &EvalError{Expr: n.String(), Msg: "unknown operator " + n.op}
}

func (n call) eval(env Env) (any, error) {
	args := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	fn, ok := builtins[n.name]
	if !ok {
		fn, ok = env.Function(n.name)
	}
	if !ok {
		return nil, &EvalError{Expr: n.String(), Msg: "unknown function " + n.name}
	}
	v, err := fn(args)
	if err != nil {
		return nil, &EvalError{Expr: n.String(), Msg: err.Error()}
	}
	return v, nil
}

// Property returns the named field of a map (or struct exported field), or nil.
func Property(target any, name string) any {
	switch t := target.(type) {
	case nil:
		return nil
	case map[string]any:
		return t[name]
	}
	rv := reflect.ValueOf(target)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil
		}
		return v.Interface()
	case reflect.Struct:
		f := rv.FieldByName(name)
		if !f.IsValid() || !f.CanInterface() {
			return nil
		}
		return f.Interface()
	}
	return nil
}

// Element returns the i-th element of a sequence, or nil when out of range.
func Element(target any, i int) any {
	if target == nil {
		return nil
	}
	if s, ok := target.([]any); ok {
		if i < 0 || i >= len(s) {
			return nil
		}
		return s[i]
	}
	rv := reflect.ValueOf(target)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if i < 0 || i >= rv.Len() {
			return nil
		}
		return rv.Index(i).Interface()
	}
	return nil
}

// Equal compares two values with numeric normalisation (1 == 1.0).
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aok := toNumber(a)
	bf, bok := toNumber(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b any) (int, error) {
	af, aok := toNumber(a)
	bf, bok := toNumber(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		}
		return 0, nil
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), nil
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}

// Format renders a value as template output. nil renders as the empty string.
func Format(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	}
	if f, ok := toNumber(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}

func toNumber(v any) (float64, bool) {
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
	}
	return 0, false
}

func lengthOf(v any) (int, bool) {
	switch t := v.(type) {
	case nil:
		return 0, true
	case string:
		return len([]rune(t)), true
	case []any:
		return len(t), true
	case map[string]any:
		return len(t), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), true
	}
	return 0, false
}
