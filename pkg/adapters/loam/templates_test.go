package loam

import (
	"context"
	"testing"

	"github.com/aretw0/loam"
	"github.com/aretw0/parley/internal/testutils"
	contract "github.com/aretw0/parley/pkg/ports/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_Contract(t *testing.T) {
	_, repo := testutils.TemplateRepo(t, map[string]string{
		"welcome.md": `---
name: Welcome
---
Hello, please send a message to get started!
`,
		"token.md": `---
name: ShowToken
params: [token]
---
Here is your token ${token}`,
	})

	source := New(loam.NewTypedRepository[TemplateMetadata](repo))
	contract.TemplateSourceContractTest(t, source, map[string]string{
		"Welcome":   "Hello, please send a message to get started!",
		"ShowToken": "Here is your token ${token}",
	})
}

func TestSource_ParamsAndImplicitNames(t *testing.T) {
	_, repo := testutils.TemplateRepo(t, map[string]string{
		"greet.md": `---
params: [name]
---
Hi ${name}`,
		"signin/failed.md": `---
description: shown when the sign-in prompt gives up
---
Login was not successful please try again.`,
	})

	templates, err := New(loam.NewTypedRepository[TemplateMetadata](repo)).Templates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 2)

	assert.Equal(t, "greet", templates[0].Name, "name comes from the file when not set")
	assert.Equal(t, []string{"name"}, templates[0].Params)
	assert.Equal(t, "signin/failed", templates[1].Name)
	assert.Equal(t, "Login was not successful please try again.", templates[1].Text)
}

func TestSource_DetectsCollisions(t *testing.T) {
	_, repo := testutils.TemplateRepo(t, map[string]string{
		"a.md": "---\nname: Welcome\n---\nOne",
		"b.md": "---\nname: Welcome\n---\nTwo",
	})

	_, err := New(loam.NewTypedRepository[TemplateMetadata](repo)).Templates(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collision detected")
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	testutils.WriteFiles(t, dir, map[string]string{"Welcome.md": "Hello"})

	source, err := Open(dir)
	require.NoError(t, err)

	templates, err := source.Templates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "Welcome", templates[0].Name)
	assert.Equal(t, "Hello", templates[0].Text)
}
