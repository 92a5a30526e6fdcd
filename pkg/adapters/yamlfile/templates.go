package yamlfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
	"gopkg.in/yaml.v3"
)

// TemplateFile represents the structure of templates.yaml.
//
//	templates:
//	  - name: Greeting
//	    params: [who]
//	    text: Hello ${who}!
//
// A plain mapping (name: text) is accepted too.
type TemplateFile struct {
	Templates []domain.Template `yaml:"templates" json:"templates"`
}

// ParseTemplates decodes a template file. Names are unique; the result is sorted by name.
func ParseTemplates(data []byte) ([]domain.Template, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	var list []domain.Template
	if _, ok := doc["templates"]; ok {
		var file TemplateFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse templates: %w", err)
		}
		list = file.Templates
	} else {
		for name, v := range doc {
			text, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("template %s: expected text, got %T", name, v)
			}
			list = append(list, domain.Template{Name: name, Text: text})
		}
	}

	seen := make(map[string]bool, len(list))
	for i := range list {
		list[i].Text = strings.TrimRight(list[i].Text, "\n")
		name := list[i].Name
		if name == "" {
			return nil, fmt.Errorf("template %d has no name", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate template %q", name)
		}
		seen[name] = true
	}
	sort.Slice(list, func(a, b int) bool { return list[a].Name < list[b].Name })
	return list, nil
}

// Templates implements ports.TemplateSource over a YAML (or JSON) file.
type Templates struct {
	path string
}

// NewTemplates creates a source reading path.
func NewTemplates(path string) *Templates {
	return &Templates{path: path}
}

// Templates reads and parses the file.
func (t *Templates) Templates(ctx context.Context) ([]domain.Template, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}
	if strings.EqualFold(filepath.Ext(t.path), ".json") {
		var file TemplateFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", t.path, err)
		}
		// Round-trip through YAML for the same validation.
		data, err = yaml.Marshal(file)
		if err != nil {
			return nil, err
		}
	}
	return ParseTemplates(data)
}
