package runtime

import (
	"testing"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopes_ReadPrecedence(t *testing.T) {
	s := NewScopes(map[string]any{"name": "conv"}, map[string]any{"name": "user", "lang": "pt"})
	locals := map[string]any{}
	s.BindDialog(locals)

	v, ok := s.Resolve("name")
	require.True(t, ok)
	assert.Equal(t, "conv", v)

	require.NoError(t, s.SetProperty("$name", "dialog"))
	v, _ = s.Resolve("name")
	assert.Equal(t, "dialog", v)
	assert.Equal(t, "dialog", locals["name"])

	require.NoError(t, s.Set(domain.ScopeTurn, "name", "turn"))
	v, _ = s.Resolve("name")
	assert.Equal(t, "turn", v)

	v, _ = s.Resolve("user.name")
	assert.Equal(t, "user", v)
	v, _ = s.Resolve("lang")
	assert.Equal(t, "pt", v)

	_, ok = s.Resolve("missing")
	assert.False(t, ok)
}

func TestScopes_NestedWrites(t *testing.T) {
	s := NewScopes(nil, nil)

	require.NoError(t, s.SetProperty("conversation.profile.name", "Ana"))
	v, ok := s.Resolve("conversation.profile.name")
	require.True(t, ok)
	assert.Equal(t, "Ana", v)

	require.NoError(t, s.SetProperty("user.tags", []any{"a", "b"}))
	v, _ = s.Resolve("user.tags.1")
	assert.Equal(t, "b", v)

	err := s.SetProperty("conversation.profile.name.first", "x")
	assert.Error(t, err, "cannot descend into a string")

	s.Delete(domain.ScopeConversation, "profile.name")
	_, ok = s.Resolve("conversation.profile.name")
	assert.False(t, ok)
}

func TestScopes_WriteRules(t *testing.T) {
	s := NewScopes(nil, nil)

	assert.ErrorIs(t, s.SetProperty("name", "x"), domain.ErrUnscopedProperty)
	assert.ErrorIs(t, s.SetProperty("conversation._stack", "x"), domain.ErrReservedKey)
	assert.Error(t, s.SetProperty("dialog.x", 1), "no dialog bound")
}

func TestScopes_LookupScopeName(t *testing.T) {
	s := NewScopes(map[string]any{"a": 1.0}, nil)
	v, ok := s.Lookup("conversation")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": 1.0}, v)

	s.Clear(domain.ScopeConversation)
	v, _ = s.Lookup("conversation")
	assert.Empty(t, v)
}
