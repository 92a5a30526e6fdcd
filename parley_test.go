package parley_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/oauthbot"
	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/dsl"
	"github.com/aretw0/parley/pkg/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const connection = "GitHub"

var (
	user = domain.ChannelAccount{ID: "u1", Name: "Ada"}
	bot  = domain.ChannelAccount{ID: "parley", Name: "Parley"}
)

func message(conversation, text string) domain.ConversationTurn {
	return domain.ConversationTurn{
		Type:           domain.TurnMessage,
		ChannelID:      "test",
		ConversationID: conversation,
		From:           user,
		Recipient:      bot,
		Text:           text,
	}
}

func texts(acts []domain.Activity) []string {
	out := make([]string, 0, len(acts))
	for _, a := range acts {
		if a.Text != "" {
			out = append(out, a.Text)
		}
	}
	return out
}

func greeter(t *testing.T) domain.Dialog {
	t.Helper()
	b := dsl.New("greeter")
	b.TextPrompt("askName", "user.name", "What is your name?")
	b.OnUnknownIntent().
		If("user.name", dsl.Actions(dsl.Send("Welcome back, ${user.name}.")),
			dsl.Actions(dsl.Prompt("askName"), dsl.Send("Nice to meet you, ${user.name}!")))
	d, err := b.Build()
	require.NoError(t, err)
	return d
}

func TestNew_RequiresDialog(t *testing.T) {
	_, err := parley.New("")
	assert.ErrorContains(t, err, "path is required")

	_, err = parley.New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to load dialog")
}

func TestReferenceBot_SignInAndSignOut(t *testing.T) {
	auth := memory.NewAuth("")
	eng, err := parley.New("", parley.WithReferenceBot(connection), parley.WithAuthConnection(auth))
	require.NoError(t, err)
	assert.Equal(t, oauthbot.DialogID, eng.Dialog().ID)
	assert.Same(t, auth, eng.Auth())
	ctx := context.Background()

	out, err := eng.ProcessTurn(ctx, message("c1", "hello"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Attachments, 1)
	assert.Equal(t, domain.ContentTypeSignIn, out[0].Attachments[0].ContentType)

	ref := message("c1", "").Ref()
	pending, err := eng.Pending(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, oauthbot.LoginPrompt, pending.PromptID)

	out, err = eng.ProcessTurn(ctx, message("c1", auth.Approve(user.ID, connection)))
	require.NoError(t, err)
	assert.Equal(t, []string{"You are now logged in.", "Would you like to view your token?"}, texts(out))

	out, err = eng.ProcessTurn(ctx, message("c1", "yes"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, strings.HasPrefix(out[0].Text, "Here is your token tok-"), out[0].Text)

	require.NoError(t, eng.SignOut(ctx, ref, connection))
	_, err = auth.GetToken(ctx, user.ID, connection)
	assert.ErrorIs(t, err, domain.ErrNoToken)

	// Without a cached token the next conversation asks to sign in again.
	c2 := message("c2", "").Ref()
	_, err = eng.ProcessTurn(ctx, message("c2", "hello again"))
	require.NoError(t, err)
	pending, err = eng.Pending(ctx, c2)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, oauthbot.LoginPrompt, pending.PromptID)

	// Signing out while that sign-in is pending drops the prompt.
	require.NoError(t, eng.SignOut(ctx, c2, connection))
	pending, err = eng.Pending(ctx, c2)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestReferenceBot_TemplateOverride(t *testing.T) {
	eng, err := parley.New("", parley.WithReferenceBot(connection),
		parley.WithTemplates(memory.NewFromTemplates(domain.Template{Name: "Welcome", Text: "Hey ${turn.activity.from.name}!"})))
	require.NoError(t, err)
	assert.Contains(t, eng.Templates(), "SignoutCompleted")

	join := message("c1", "")
	join.Type = domain.TurnConversationUpdate
	join.MembersAdded = []domain.ChannelAccount{bot, user}
	out, err := eng.ProcessTurn(context.Background(), join)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hey Ada!"}, texts(out))
}

func TestNew_ResumesFromStore(t *testing.T) {
	store := file.New(t.TempDir())
	ctx := context.Background()

	first, err := parley.New("greeter", parley.WithDialog(greeter(t)), parley.WithStore(store))
	require.NoError(t, err)
	assert.Equal(t, "greeter", first.Name)
	out, err := first.ProcessTurn(ctx, message("c1", "hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"What is your name?"}, texts(out))

	// A second engine over the same store answers the prompt the first one asked.
	second, err := parley.New("greeter", parley.WithDialog(greeter(t)), parley.WithStore(store))
	require.NoError(t, err)
	out, err = second.ProcessTurn(ctx, message("c1", "Ada"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Nice to meet you, Ada!"}, texts(out))

	// The name is user scoped, so it follows the user into a new conversation.
	out, err = second.ProcessTurn(ctx, message("c2", "hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Welcome back, Ada."}, texts(out))

	stack, err := second.Stack(ctx, message("c1", "").Ref())
	require.NoError(t, err)
	assert.Nil(t, stack.PendingPrompt())
}

func TestEngine_Chat(t *testing.T) {
	eng, err := parley.New("", parley.WithDialog(greeter(t)))
	require.NoError(t, err)

	var out bytes.Buffer
	err = eng.Chat(context.Background(), strings.NewReader("hi\nGrace\nexit\nnever read\n"), &out,
		runner.WithUser("u7", "Grace"))
	require.NoError(t, err)

	assert.Contains(t, out.String(), "What is your name?")
	assert.Contains(t, out.String(), "Nice to meet you, Grace!")
	assert.NotContains(t, out.String(), "never read")
}
