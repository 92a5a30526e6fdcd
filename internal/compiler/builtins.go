package compiler

import (
	"fmt"
	"strings"
)

var builtins map[string]Func

func init() {
	builtins = map[string]Func{
		"length":  builtinLength,
		"count":   builtinLength,
		"exists":  builtinExists,
		"empty":   builtinEmpty,
		"toLower": stringFunc(strings.ToLower),
		"toUpper": stringFunc(strings.ToUpper),
		"concat":  builtinConcat,
		"if":      builtinIf,
		"not":     builtinNot,
	}
}

// IsBuiltin reports whether name is a function every expression can call.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

func arity(args []any, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d argument(s), got %d", n, len(args))
	}
	return nil
}

func builtinLength(args []any) (any, error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	n, ok := lengthOf(args[0])
	if !ok {
		return nil, fmt.Errorf("%T has no length", args[0])
	}
	return float64(n), nil
}

func builtinExists(args []any) (any, error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	return args[0] != nil, nil
}

func builtinEmpty(args []any) (any, error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	if n, ok := lengthOf(args[0]); ok {
		return n == 0, nil
	}
	return false, nil
}

func builtinNot(args []any) (any, error) {
	if err := arity(args, 1); err != nil {
		return nil, err
	}
	return !Truthy(args[0]), nil
}

func builtinConcat(args []any) (any, error) {
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(Format(a))
	}
	return sb.String(), nil
}

func builtinIf(args []any) (any, error) {
	if err := arity(args, 3); err != nil {
		return nil, err
	}
	if Truthy(args[0]) {
		return args[1], nil
	}
	return args[2], nil
}

func stringFunc(fn func(string) string) Func {
	return func(args []any) (any, error) {
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		return fn(Format(args[0])), nil
	}
}
