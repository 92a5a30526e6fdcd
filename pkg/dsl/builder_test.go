package dsl

import (
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_SimpleDialog(t *testing.T) {
	b := New("root")

	b.TextPrompt("ask_name", "user.name", "What is your name?").
		Reprompt("I did not catch that.").
		MaxAttempts(2).
		Timeout(time.Minute)

	b.OnConversationStarted().
		Do(ForEach("turn.activity.membersAdded", "$foreach.value.id != turn.activity.recipient.id",
			Send("Welcome!")))

	b.OnIntent("Greet").
		Priority(1).
		Prompt("ask_name").
		Send("Nice to meet you, ${user.name}!").
		Complete()

	d, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, "root", d.ID)
	require.Len(t, d.Triggers, 2)

	welcome := d.Triggers[0]
	assert.Equal(t, domain.TriggerConversationStarted, welcome.Kind)
	require.Len(t, welcome.Actions, 1)
	loop, ok := welcome.Actions[0].(domain.ForEach)
	require.True(t, ok)
	assert.Equal(t, "turn.activity.membersAdded", loop.Items)
	assert.Len(t, loop.Actions, 1)

	greet := d.Triggers[1]
	assert.Equal(t, "Greet", greet.Intent)
	assert.Equal(t, 1, greet.Priority)
	assert.Equal(t, []domain.ActionKind{domain.KindInvokePrompt, domain.KindSendMessage, domain.KindComplete},
		kinds(greet.Actions))

	spec := d.Prompts["ask_name"]
	assert.Equal(t, domain.PromptText, spec.Kind)
	assert.Equal(t, "I did not catch that.", spec.Reprompt)
	assert.Equal(t, 2, spec.MaxAttempts)
	assert.Equal(t, time.Minute, spec.Timeout)
}

func TestBuilder_UnknownPrompt(t *testing.T) {
	b := New("root")
	b.OnUnknownIntent().If("true", Actions(Prompt("missing")), nil)

	_, err := b.Build()
	assert.ErrorIs(t, err, domain.ErrUnknownPrompt)
}

func TestBuilder_DuplicatePrompt(t *testing.T) {
	b := New("root")
	b.TextPrompt("p", "turn.a", "A?")
	b.ConfirmPrompt("p", "turn.b", "B?")

	_, err := b.Build()
	assert.Error(t, err)
}

func TestBuilder_Source(t *testing.T) {
	b := New("root")
	b.OAuthPrompt("login", "turn.oauth", "graph").Card("Sign in", "Please sign in")
	b.OnUnknownIntent().Prompt("login")

	src, err := b.Source()
	require.NoError(t, err)
	d, err := src.Dialog(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "Sign in", d.Prompts["login"].Title)
	assert.Equal(t, "graph", d.Prompts["login"].ConnectionName)
}

func kinds(actions []domain.Action) []domain.ActionKind {
	out := make([]domain.ActionKind, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Kind())
	}
	return out
}
