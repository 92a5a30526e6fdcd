package runtime

import (
	"testing"

	"github.com/aretw0/parley/internal/compiler"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplates_Render(t *testing.T) {
	tpls, err := NewTemplates([]domain.Template{
		{Name: "Greeting", Params: []string{"who"}, Text: "Hello ${who}!"},
		{Name: "Welcome", Text: "${Greeting(user.name)} You have ${length(user.items)} items."},
	})
	require.NoError(t, err)

	s := NewScopes(nil, map[string]any{"name": "Ana", "items": []any{1, 2, 3}})
	out, err := tpls.Render("Welcome", scopeEnv{scopes: s}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello Ana! You have 3 items.", out)

	again, err := tpls.Render("Welcome", scopeEnv{scopes: s}, nil)
	require.NoError(t, err)
	assert.Equal(t, out, again, "rendering is pure")

	out, err = tpls.Render("Greeting", scopeEnv{scopes: s}, map[string]any{"who": "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Bob!", out)
}

func TestTemplates_Errors(t *testing.T) {
	_, err := NewTemplates([]domain.Template{{Name: "A", Text: "${Missing()}"}})
	assert.ErrorIs(t, err, domain.ErrUnknownTemplate)

	_, err = NewTemplates([]domain.Template{{Name: "A", Text: "x"}, {Name: "A", Text: "y"}})
	assert.Error(t, err)

	tpls, err := NewTemplates([]domain.Template{{Name: "Loop", Text: "${Loop()}"}})
	require.NoError(t, err)
	_, err = tpls.Render("Loop", compiler.MapEnv{}, nil)
	assert.Error(t, err, "recursion is bounded")

	_, err = tpls.Render("Nope", compiler.MapEnv{}, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownTemplate)
}
