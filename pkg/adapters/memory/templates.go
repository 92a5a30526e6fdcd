package memory

import (
	"context"
	"sort"

	"github.com/aretw0/parley/pkg/domain"
)

// Templates implements ports.TemplateSource over a fixed set of templates.
type Templates struct {
	templates []domain.Template
}

// NewTemplates creates a source from plain name/text pairs.
func NewTemplates(data map[string]string) *Templates {
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)

	t := &Templates{}
	for _, name := range names {
		t.templates = append(t.templates, domain.Template{Name: name, Text: data[name]})
	}
	return t
}

// NewFromTemplates creates a source from domain objects (parameterised templates included).
func NewFromTemplates(templates ...domain.Template) *Templates {
	return &Templates{templates: append([]domain.Template(nil), templates...)}
}

// Templates returns a copy of the templates.
func (t *Templates) Templates(ctx context.Context) ([]domain.Template, error) {
	return append([]domain.Template(nil), t.templates...), nil
}

// DialogSource implements ports.DialogSource over a dialog built in code.
type DialogSource struct {
	dialog domain.Dialog
}

// NewDialogSource wraps d.
func NewDialogSource(d domain.Dialog) *DialogSource {
	return &DialogSource{dialog: d}
}

// Dialog returns the wrapped dialog.
func (s *DialogSource) Dialog(ctx context.Context) (domain.Dialog, error) {
	return s.dialog, nil
}
