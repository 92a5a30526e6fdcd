package runtime

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/parley/internal/compiler"
	"github.com/aretw0/parley/pkg/domain"
)

// op is a compiled action.
type op interface {
	kind() domain.ActionKind
}

type sendOp struct {
	template string             // named template, or
	text     *compiler.Template // inline text
	args     map[string]*compiler.Expr
}

type ifOp struct {
	cond      *compiler.Expr
	then, els []op
}

type forEachOp struct {
	items  *compiler.Expr
	filter *compiler.Expr
	body   []op
}

type promptOp struct{ id string }

type callOp struct{ name string }

type setOp struct {
	scope domain.Scope
	key   string
	value *compiler.Expr
}

type completeOp struct{}

func (sendOp) kind() domain.ActionKind     { return domain.KindSendMessage }
func (ifOp) kind() domain.ActionKind       { return domain.KindIf }
func (forEachOp) kind() domain.ActionKind  { return domain.KindForEach }
func (promptOp) kind() domain.ActionKind   { return domain.KindInvokePrompt }
func (callOp) kind() domain.ActionKind     { return domain.KindRunCallback }
func (setOp) kind() domain.ActionKind      { return domain.KindSetProperty }
func (completeOp) kind() domain.ActionKind { return domain.KindComplete }

type compiledRule struct {
	index int
	rule  domain.TriggerRule
	ops   []op
}

type compiledPrompt struct {
	spec        domain.PromptSpec
	scope       domain.Scope
	key         string
	prompt      *compiler.Template
	reprompt    *compiler.Template
	failed      *compiler.Template
	cardTitle   *compiler.Template
	cardText    *compiler.Template
	maxAttempts int
	timeout     time.Duration
}

// BuildError reports an invalid dialog definition.
type BuildError struct {
	Where string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("invalid dialog at %s: %v", e.Where, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

type builder struct {
	e *Engine
}

func (b *builder) compileDialog(d domain.Dialog) ([]compiledRule, map[string]*compiledPrompt, error) {
	prompts := make(map[string]*compiledPrompt, len(d.Prompts))
	for id, spec := range d.Prompts {
		if spec.ID == "" {
			spec.ID = id
		}
		if spec.ID != id {
			return nil, nil, &BuildError{Where: "prompt " + id, Err: fmt.Errorf("id mismatch %q", spec.ID)}
		}
		cp, err := b.compilePrompt(spec)
		if err != nil {
			return nil, nil, &BuildError{Where: "prompt " + id, Err: err}
		}
		prompts[id] = cp
	}

	rules := make([]compiledRule, 0, len(d.Triggers))
	for i, rule := range d.Triggers {
		where := fmt.Sprintf("trigger %d (%s)", i, rule.Name())
		switch rule.Kind {
		case domain.TriggerIntent:
			if rule.Intent == "" {
				return nil, nil, &BuildError{Where: where, Err: fmt.Errorf("intent trigger without intent")}
			}
		case domain.TriggerUnknownIntent, domain.TriggerConversationStarted:
		default:
			return nil, nil, &BuildError{Where: where, Err: fmt.Errorf("unknown trigger kind %q", rule.Kind)}
		}
		ops, err := b.compileActions(rule.Actions, prompts, where)
		if err != nil {
			return nil, nil, err
		}
		rules = append(rules, compiledRule{index: i, rule: rule, ops: ops})
	}
	return rules, prompts, nil
}

func (b *builder) compileActions(actions []domain.Action, prompts map[string]*compiledPrompt, where string) ([]op, error) {
	ops := make([]op, 0, len(actions))
	for i, a := range actions {
		at := fmt.Sprintf("%s/%d", where, i)
		o, err := b.compileAction(a, prompts, at)
		if err != nil {
			var be *BuildError
			if errors.As(err, &be) {
				return nil, err
			}
			return nil, &BuildError{Where: at, Err: err}
		}
		ops = append(ops, o)
	}
	return ops, nil
}

func (b *builder) compileAction(a domain.Action, prompts map[string]*compiledPrompt, at string) (op, error) {
	switch a := a.(type) {
	case domain.SendMessage:
		return b.compileSend(a)
	case *domain.SendMessage:
		return b.compileSend(*a)
	case domain.If:
		return b.compileIf(a, prompts, at)
	case *domain.If:
		return b.compileIf(*a, prompts, at)
	case domain.ForEach:
		return b.compileForEach(a, prompts, at)
	case *domain.ForEach:
		return b.compileForEach(*a, prompts, at)
	case domain.InvokePrompt:
		return compilePromptRef(a, prompts)
	case *domain.InvokePrompt:
		return compilePromptRef(*a, prompts)
	case domain.RunCallback:
		return b.compileCall(a)
	case *domain.RunCallback:
		return b.compileCall(*a)
	case domain.SetProperty:
		return b.compileSet(a)
	case *domain.SetProperty:
		return b.compileSet(*a)
	case domain.Complete, *domain.Complete:
		return completeOp{}, nil
	case nil:
		return nil, fmt.Errorf("nil action")
	}
	return nil, fmt.Errorf("unsupported action %T", a)
}

func (b *builder) compileSend(a domain.SendMessage) (op, error) {
	if (a.Template == "") == (a.Text == "") {
		return nil, fmt.Errorf("send needs exactly one of template or text")
	}
	o := sendOp{template: a.Template}
	if a.Template != "" && !b.e.templates.Has(a.Template) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTemplate, a.Template)
	}
	if a.Text != "" {
		tpl, err := b.compileText(a.Text)
		if err != nil {
			return nil, err
		}
		o.text = tpl
	}
	if len(a.Args) > 0 {
		o.args = make(map[string]*compiler.Expr, len(a.Args))
		for k, v := range a.Args {
			src, err := argSource(v)
			if err != nil {
				return nil, fmt.Errorf("arg %s: %w", k, err)
			}
			expr, err := b.compileExpr(src)
			if err != nil {
				return nil, fmt.Errorf("arg %s: %w", k, err)
			}
			o.args[k] = expr
		}
	}
	return o, nil
}

func (b *builder) compileIf(a domain.If, prompts map[string]*compiledPrompt, at string) (op, error) {
	if strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(a.Condition), "=")) == "" {
		return nil, fmt.Errorf("if without condition")
	}
	cond, err := b.compileExpr(a.Condition)
	if err != nil {
		return nil, err
	}
	then, err := b.compileActions(a.Then, prompts, at+"/then")
	if err != nil {
		return nil, err
	}
	els, err := b.compileActions(a.Else, prompts, at+"/else")
	if err != nil {
		return nil, err
	}
	return ifOp{cond: cond, then: then, els: els}, nil
}

func (b *builder) compileForEach(a domain.ForEach, prompts map[string]*compiledPrompt, at string) (op, error) {
	if strings.TrimSpace(a.Items) == "" {
		return nil, fmt.Errorf("foreach without items")
	}
	items, err := b.compileExpr(a.Items)
	if err != nil {
		return nil, err
	}
	o := forEachOp{items: items}
	if a.Filter != "" {
		if o.filter, err = b.compileExpr(a.Filter); err != nil {
			return nil, err
		}
	}
	if o.body, err = b.compileActions(a.Actions, prompts, at+"/body"); err != nil {
		return nil, err
	}
	return o, nil
}

func compilePromptRef(a domain.InvokePrompt, prompts map[string]*compiledPrompt) (op, error) {
	if _, ok := prompts[a.PromptID]; !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPrompt, a.PromptID)
	}
	return promptOp{id: a.PromptID}, nil
}

func (b *builder) compileCall(a domain.RunCallback) (op, error) {
	if _, ok := b.e.commands.Lookup(a.Name); !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCommand, a.Name)
	}
	return callOp{name: a.Name}, nil
}

func (b *builder) compileSet(a domain.SetProperty) (op, error) {
	sc, key, err := checkProperty(a.Property)
	if err != nil {
		return nil, err
	}
	value, err := b.compileExpr(a.Value)
	if err != nil {
		return nil, err
	}
	return setOp{scope: sc, key: key, value: value}, nil
}

func (b *builder) compilePrompt(spec domain.PromptSpec) (*compiledPrompt, error) {
	sc, key, err := checkProperty(spec.Property)
	if err != nil {
		return nil, err
	}
	cp := &compiledPrompt{
		spec:        spec,
		scope:       sc,
		key:         key,
		maxAttempts: spec.MaxAttempts,
		timeout:     spec.Timeout,
	}
	if cp.maxAttempts < 0 || cp.timeout < 0 {
		return nil, fmt.Errorf("max_attempts and timeout must not be negative")
	}
	if cp.maxAttempts == 0 {
		cp.maxAttempts = b.e.maxAttempts
	}
	if cp.timeout == 0 {
		cp.timeout = b.e.promptTimeout
	}

	switch spec.Kind {
	case domain.PromptText, domain.PromptConfirm:
		if spec.Prompt == "" {
			return nil, fmt.Errorf("%s prompt without prompt text", spec.Kind)
		}
	case domain.PromptOAuth:
		if spec.ConnectionName == "" {
			return nil, fmt.Errorf("oauth prompt without connection_name")
		}
		if sc != domain.ScopeTurn {
			return nil, fmt.Errorf("oauth prompt must store its token in turn scope, got %s", spec.Property)
		}
		if b.e.auth == nil {
			return nil, fmt.Errorf("oauth prompt needs an auth connection")
		}
	default:
		return nil, fmt.Errorf("unknown prompt kind %q", spec.Kind)
	}

	for _, f := range []struct {
		src string
		dst **compiler.Template
	}{
		{spec.Prompt, &cp.prompt},
		{spec.Reprompt, &cp.reprompt},
		{spec.Failed, &cp.failed},
		{spec.Title, &cp.cardTitle},
		{spec.Text, &cp.cardText},
	} {
		if f.src == "" {
			continue
		}
		tpl, err := b.compileText(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = tpl
	}
	if cp.reprompt == nil {
		cp.reprompt = cp.prompt
	}
	return cp, nil
}

func (b *builder) compileText(src string) (*compiler.Template, error) {
	tpl, err := compiler.CompileTemplate(src)
	if err != nil {
		return nil, err
	}
	if err := b.e.templates.checkCalls(tpl.Calls()); err != nil {
		return nil, err
	}
	return tpl, nil
}

func (b *builder) compileExpr(src string) (*compiler.Expr, error) {
	expr, err := compiler.Compile(src)
	if err != nil {
		return nil, err
	}
	if err := b.e.templates.checkCalls(expr.Calls()); err != nil {
		return nil, err
	}
	return expr, nil
}

// checkProperty validates a write target: it must name a scope and not touch reserved keys.
func checkProperty(path string) (domain.Scope, string, error) {
	sc, key, ok := domain.SplitProperty(path)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", domain.ErrUnscopedProperty, path)
	}
	if domain.IsReservedKey(key) {
		return "", "", fmt.Errorf("%w: %q", domain.ErrReservedKey, path)
	}
	return sc, key, nil
}

// argSource turns a template argument into expression source.
// Strings are expressions; scalars are literals.
func argSource(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case nil:
		return "null", nil
	case bool, int, int64, float64:
		return compiler.Format(t), nil
	}
	return "", fmt.Errorf("unsupported literal %T", v)
}
