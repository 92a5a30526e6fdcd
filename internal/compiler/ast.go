package compiler

import (
	"strconv"
	"strings"
)

// Node is a compiled expression tree node.
type Node interface {
	eval(env Env) (any, error)
	String() string
}

type literal struct{ value any }

type ident struct{ name string }

type member struct {
	target Node
	name   string
}

type index struct {
	target Node
	index  Node
}

type call struct {
	name string
	args []Node
}

type unary struct {
	op      string
	operand Node
}

type binary struct {
	op          string
	left, right Node
}

func (n literal) String() string {
	switch v := n.value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return "?"
}

func (n ident) String() string  { return n.name }
func (n member) String() string { return n.target.String() + "." + n.name }
func (n index) String() string  { return n.target.String() + "[" + n.index.String() + "]" }
func (n unary) String() string  { return n.op + n.operand.String() }

func (n binary) String() string {
	return "(" + n.left.String() + " " + n.op + " " + n.right.String() + ")"
}

func (n call) String() string {
	args := make([]string, len(n.args))
	for i, a := range n.args {
		args[i] = a.String()
	}
	return n.name + "(" + strings.Join(args, ", ") + ")"
}

// calls collects the names of every function invoked in the tree.
func calls(n Node, out map[string]struct{}) {
	switch v := n.(type) {
	case call:
		out[v.name] = struct{}{}
		for _, a := range v.args {
			calls(a, out)
		}
	case member:
		calls(v.target, out)
	case index:
		calls(v.target, out)
		calls(v.index, out)
	case unary:
		calls(v.operand, out)
	case binary:
		calls(v.left, out)
		calls(v.right, out)
	}
}
