package tests

import (
	"context"
	"testing"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// TemplateSourceContractTest is a reusable test suite that verifies if an adapter complies with ports.TemplateSource.
// want maps template names to their expected text.
func TemplateSourceContractTest(t *testing.T, source ports.TemplateSource, want map[string]string) {
	t.Helper()

	got, err := source.Templates(context.Background())
	if err != nil {
		t.Fatalf("unexpected error listing templates: %v", err)
	}

	t.Run("Templates_Count", func(t *testing.T) {
		if len(got) != len(want) {
			t.Errorf("expected %d templates, got %d", len(want), len(got))
		}
	})

	t.Run("Templates_Content", func(t *testing.T) {
		lookup := make(map[string]domain.Template, len(got))
		for _, tpl := range got {
			lookup[tpl.Name] = tpl
		}
		for name, text := range want {
			tpl, ok := lookup[name]
			if !ok {
				t.Errorf("missing template %q", name)
				continue
			}
			if tpl.Text != text {
				t.Errorf("text mismatch for %s. got %q, want %q", name, tpl.Text, text)
			}
		}
	})

	t.Run("Templates_UniqueNames", func(t *testing.T) {
		seen := make(map[string]bool)
		for _, tpl := range got {
			if tpl.Name == "" {
				t.Error("template with empty name")
			}
			if seen[tpl.Name] {
				t.Errorf("duplicate template %q", tpl.Name)
			}
			seen[tpl.Name] = true
		}
	})
}
