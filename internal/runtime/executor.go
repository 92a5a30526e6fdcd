package runtime

import (
	"context"
	"fmt"
	"reflect"

	"github.com/aretw0/parley/internal/compiler"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/registry"
)

type outcome int

const (
	// outcomeDone means the action list ran to its end.
	outcomeDone outcome = iota
	// outcomeSuspended means a prompt is waiting; the returned path locates it.
	outcomeSuspended
	// outcomeComplete means the dialog was ended by Complete or a command.
	outcomeComplete
)

// foreachKey is the dialog-scope binding of the current ForEach element.
const foreachKey = "foreach"

// execution runs the actions of one rule frame.
type execution struct {
	engine   *Engine
	ts       *turnState
	frameIdx int
	loops    int // enclosing ForEach bodies being executed
}

func (x *execution) env() compiler.Env {
	return x.engine.templates.Env(scopeEnv{scopes: x.ts.scopes}, nil)
}

// run executes ops in order. resume, when not empty, is the cursor path saved by a
// previous suspension: execution restarts at resume[0].Index, descending into the
// branch or iteration it records, and skips the prompt that suspended.
func (x *execution) run(ctx context.Context, ops []op, resume []domain.Position) (outcome, []domain.Position, error) {
	start := 0
	var head *domain.Position
	var rest []domain.Position
	if len(resume) > 0 {
		head = &resume[0]
		start = head.Index
		rest = resume[1:]
	}

	for i := start; i < len(ops); i++ {
		resuming := head != nil && i == start
		if err := ctx.Err(); err != nil {
			return outcomeDone, nil, err
		}

		switch o := ops[i].(type) {
		case sendOp:
			if err := x.send(o); err != nil {
				return outcomeDone, nil, err
			}

		case setOp:
			v, err := o.value.Eval(x.env())
			if err != nil {
				return outcomeDone, nil, fmt.Errorf("set %s.%s: %w", o.scope, o.key, err)
			}
			if err := x.ts.scopes.Set(o.scope, o.key, v); err != nil {
				return outcomeDone, nil, err
			}

		case ifOp:
			branch := domain.BranchElse
			var inner []domain.Position
			if resuming {
				branch, inner = head.Branch, rest
			} else if x.condition(o.cond) {
				branch = domain.BranchThen
			}
			list := o.els
			if branch == domain.BranchThen {
				list = o.then
			}
			out, path, err := x.run(ctx, list, inner)
			if err != nil || out == outcomeComplete {
				return out, nil, err
			}
			if out == outcomeSuspended {
				return out, prepend(domain.Position{Index: i, Branch: branch}, path), nil
			}

		case forEachOp:
			out, path, err := x.forEach(ctx, o, i, head, rest, resuming)
			if err != nil || out != outcomeDone {
				return out, path, err
			}

		case promptOp:
			if resuming {
				// The prompt that suspended this frame has finished.
				continue
			}
			finished, err := x.engine.beginPrompt(ctx, x.ts, x.engine.prompts[o.id])
			if err != nil {
				return outcomeDone, nil, err
			}
			if !finished {
				return outcomeSuspended, []domain.Position{{Index: i}}, nil
			}

		case callOp:
			sig, err := x.engine.commands.Execute(ctx, o.name, &dialogContext{engine: x.engine, ts: x.ts})
			if err != nil {
				return outcomeDone, nil, fmt.Errorf("callback %s: %w", o.name, err)
			}
			if sig == registry.SignalComplete {
				return outcomeComplete, nil, nil
			}

		case completeOp:
			return outcomeComplete, nil, nil
		}
	}
	return outcomeDone, nil, nil
}

func (x *execution) forEach(ctx context.Context, o forEachOp, i int, head *domain.Position, rest []domain.Position, resuming bool) (outcome, []domain.Position, error) {
	locals := x.ts.stack[x.frameIdx].Locals
	previous, hadPrevious := locals[foreachKey]
	if resuming && x.loops == 0 {
		// The persisted binding is this loop's own; nothing encloses it.
		hadPrevious = false
	}
	restore := func() {
		if hadPrevious {
			locals[foreachKey] = previous
		} else {
			delete(locals, foreachKey)
		}
	}

	var items []any
	iter := 0
	var inner []domain.Position
	if resuming {
		items, iter, inner = head.Items, head.Iteration, rest
	} else {
		var err error
		if items, err = x.snapshot(o.items); err != nil {
			return outcomeDone, nil, err
		}
	}

	for ; iter < len(items); iter++ {
		locals[foreachKey] = map[string]any{"value": items[iter], "index": iter}
		if inner == nil && o.filter != nil && !x.condition(o.filter) {
			continue
		}
		x.loops++
		out, path, err := x.run(ctx, o.body, inner)
		x.loops--
		inner = nil
		if err != nil || out == outcomeComplete {
			return out, nil, err
		}
		if out == outcomeSuspended {
			// The binding stays in place so the body sees it when it resumes.
			return out, prepend(domain.Position{Index: i, Branch: domain.BranchBody, Iteration: iter, Items: items}, path), nil
		}
	}
	restore()
	return outcomeDone, nil, nil
}

// snapshot evaluates the items of a ForEach into a JSON-shaped list, so the same
// list can be persisted in the cursor and iterated again after a suspension.
func (x *execution) snapshot(expr *compiler.Expr) ([]any, error) {
	v, err := expr.Eval(x.env())
	if err != nil {
		return nil, fmt.Errorf("foreach %s: %w", expr, err)
	}
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		x.ts.logger.Warn("foreach over a value that is not a list", "items", expr.String(), "type", fmt.Sprintf("%T", v))
		return nil, nil
	}
	normalized, err := normalizeValue(v)
	if err != nil {
		return nil, fmt.Errorf("foreach %s: %w", expr, err)
	}
	list, _ := normalized.([]any)
	return list, nil
}

// condition evaluates a condition; evaluation errors count as false.
func (x *execution) condition(expr *compiler.Expr) bool {
	ok, err := expr.EvalBool(x.env())
	if err != nil {
		x.ts.logger.Warn("condition failed, treating as false", "condition", expr.String(), "err", err)
		return false
	}
	return ok
}

func (x *execution) send(o sendOp) error {
	var args map[string]any
	if len(o.args) > 0 {
		args = make(map[string]any, len(o.args))
		for k, expr := range o.args {
			v, err := expr.Eval(x.env())
			if err != nil {
				return fmt.Errorf("send arg %s: %w", k, err)
			}
			args[k] = v
		}
	}

	base := scopeEnv{scopes: x.ts.scopes}
	var text string
	var err error
	if o.template != "" {
		text, err = x.engine.templates.Render(o.template, base, args)
	} else {
		text, err = x.engine.templates.RenderText(o.text, base, args)
	}
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	x.ts.reply(text)
	return nil
}

func prepend(p domain.Position, path []domain.Position) []domain.Position {
	return append([]domain.Position{p}, path...)
}
