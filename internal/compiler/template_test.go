package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplate_Render(t *testing.T) {
	env := testEnv{
		vars: map[string]any{
			"turn": map[string]any{"oauth": map[string]any{"token": "t-1"}},
			"user": map[string]any{"name": "Ann"},
		},
		funcs: map[string]Func{
			"Welcome": func(args []any) (any, error) { return "Welcome " + Format(args[0]), nil },
		},
	}

	tests := []struct {
		src  string
		want string
	}{
		{"plain text", "plain text"},
		{"Here is your token ${turn.oauth.token}.", "Here is your token t-1."},
		{"${Welcome(user.name)}!", "Welcome Ann!"},
		{"${missing}|", "|"},
		{`literal \${x}`, "literal ${x}"},
		{"${concat('{', '}')}", "{}"},
		{"${'a}b'}", "a}b"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			tpl, err := CompileTemplate(tt.src)
			require.NoError(t, err)
			got, err := tpl.Render(env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTemplate_RenderIsPure(t *testing.T) {
	tpl, err := CompileTemplate("Hi ${user.name}")
	require.NoError(t, err)
	env := MapEnv{"user": map[string]any{"name": "Ann"}}
	a, _ := tpl.Render(env)
	b, _ := tpl.Render(env)
	assert.Equal(t, a, b)
}

func TestTemplate_Errors(t *testing.T) {
	for _, src := range []string{"${a", "${a &&}", "x ${'y}"} {
		t.Run(src, func(t *testing.T) {
			_, err := CompileTemplate(src)
			var syn *SyntaxError
			assert.True(t, errors.As(err, &syn), "got %v", err)
		})
	}
}

func TestTemplate_Metadata(t *testing.T) {
	tpl, err := CompileTemplate("${SigninSuccess()} and ${toLower(x)}")
	require.NoError(t, err)
	assert.False(t, tpl.Static())
	assert.ElementsMatch(t, []string{"SigninSuccess", "toLower"}, tpl.Calls())

	static, err := CompileTemplate("hello")
	require.NoError(t, err)
	assert.True(t, static.Static())
}
