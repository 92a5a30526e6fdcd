package runtime

import (
	"fmt"
	"sort"

	"github.com/aretw0/parley/internal/compiler"
	"github.com/aretw0/parley/pkg/domain"
)

// maxTemplateDepth bounds template-to-template calls (and catches cycles).
const maxTemplateDepth = 16

type compiledTemplate struct {
	name   string
	params []string
	body   *compiler.Template
}

// Templates is an immutable set of compiled, named templates.
// Rendering never mutates state, so the same inputs always produce the same text.
type Templates struct {
	byName map[string]*compiledTemplate
}

// NewTemplates compiles every template and checks that each call it makes resolves
// to a builtin or to another template of the set.
func NewTemplates(list []domain.Template) (*Templates, error) {
	t := &Templates{byName: make(map[string]*compiledTemplate, len(list))}
	for _, tpl := range list {
		if tpl.Name == "" {
			return nil, fmt.Errorf("template with empty name")
		}
		if _, dup := t.byName[tpl.Name]; dup {
			return nil, fmt.Errorf("duplicate template %q", tpl.Name)
		}
		body, err := compiler.CompileTemplate(tpl.Text)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", tpl.Name, err)
		}
		t.byName[tpl.Name] = &compiledTemplate{name: tpl.Name, params: tpl.Params, body: body}
	}
	for _, ct := range t.byName {
		if err := t.checkCalls(ct.body.Calls()); err != nil {
			return nil, fmt.Errorf("template %s: %w", ct.name, err)
		}
	}
	return t, nil
}

func (t *Templates) checkCalls(names []string) error {
	for _, name := range names {
		if compiler.IsBuiltin(name) || t.Has(name) {
			continue
		}
		return fmt.Errorf("%w: %s", domain.ErrUnknownTemplate, name)
	}
	return nil
}

// Has reports whether a template named name exists.
func (t *Templates) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Names returns the template names, sorted.
func (t *Templates) Names() []string {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render renders the named template with its parameters bound from args.
func (t *Templates) Render(name string, base compiler.Env, args map[string]any) (string, error) {
	ct, ok := t.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownTemplate, name)
	}
	return ct.body.Render(t.Env(base, args))
}

// RenderText renders an inline template against the same environment templates see.
func (t *Templates) RenderText(text *compiler.Template, base compiler.Env, args map[string]any) (string, error) {
	return text.Render(t.Env(base, args))
}

// Env wraps base so that expressions can call templates as functions and see args.
func (t *Templates) Env(base compiler.Env, args map[string]any) compiler.Env {
	return &renderEnv{base: base, templates: t, params: args}
}

type renderEnv struct {
	base      compiler.Env
	templates *Templates
	params    map[string]any
	depth     int
}

func (e *renderEnv) Lookup(name string) (any, bool) {
	if v, ok := e.params[name]; ok {
		return v, true
	}
	return e.base.Lookup(name)
}

func (e *renderEnv) Function(name string) (compiler.Func, bool) {
	ct, ok := e.templates.byName[name]
	if !ok {
		return e.base.Function(name)
	}
	return func(args []any) (any, error) {
		if e.depth >= maxTemplateDepth {
			return nil, fmt.Errorf("template %s: call depth exceeds %d", name, maxTemplateDepth)
		}
		params := make(map[string]any, len(ct.params))
		for i, p := range ct.params {
			if i < len(args) {
				params[p] = args[i]
			} else {
				params[p] = nil
			}
		}
		child := &renderEnv{base: e.base, templates: e.templates, params: params, depth: e.depth + 1}
		return ct.body.Render(child)
	}, true
}

// scopeEnv exposes Scopes to expressions. It has no host functions of its own.
type scopeEnv struct{ scopes *Scopes }

func (e scopeEnv) Lookup(name string) (any, bool)        { return e.scopes.Lookup(name) }
func (e scopeEnv) Function(string) (compiler.Func, bool) { return nil, false }
