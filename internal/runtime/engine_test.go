package runtime_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/parley/internal/oauthbot"
	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/dsl"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const connection = "graph"

var (
	bot  = domain.ChannelAccount{ID: "bot", Name: "Bot"}
	user = domain.ChannelAccount{ID: "u1", Name: "User"}
	ref  = domain.ConversationRef{ChannelID: "test", ConversationID: "c1", UserID: "u1"}
)

type harness struct {
	t        *testing.T
	engine   *runtime.Engine
	store    *memory.Store
	auth     *memory.Auth
	now      time.Time
	seq      int
	mu       sync.Mutex
	outcomes []domain.PromptOutcome
	recFails int
}

func keywordRecognizer() ports.Recognizer {
	return ports.RecognizerFunc(func(ctx context.Context, text, locale string) (domain.RecognizerResult, error) {
		if strings.EqualFold(strings.TrimSpace(text), "logout") {
			return domain.RecognizerResult{Intent: "Logout", Confidence: 0.9}, nil
		}
		return domain.RecognizerResult{Intent: "None"}, nil
	})
}

func newBotHarness(t *testing.T, opts ...runtime.Option) *harness {
	t.Helper()
	d, err := oauthbot.Dialog(oauthbot.Options{Connection: connection})
	require.NoError(t, err)
	templates, err := oauthbot.Templates()
	require.NoError(t, err)

	h := &harness{t: t, store: memory.NewStore(), auth: memory.NewAuth(""), now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	base := []runtime.Option{
		runtime.WithRecognizer(keywordRecognizer()),
		runtime.WithAuthConnection(h.auth),
		runtime.WithTemplates(templates...),
		runtime.WithCommands(oauthbot.Commands(oauthbot.Options{Connection: connection})),
		runtime.WithClock(func() time.Time { return h.now }),
		runtime.WithLifecycleHooks(domain.LifecycleHooks{
			OnPromptOutcome: func(_ context.Context, ev *domain.PromptEvent) {
				h.mu.Lock()
				defer h.mu.Unlock()
				h.outcomes = append(h.outcomes, ev.Outcome)
			},
			OnRecognizerFail: func(context.Context, *domain.RecognizerEvent) {
				h.mu.Lock()
				defer h.mu.Unlock()
				h.recFails++
			},
		}),
	}
	h.engine, err = runtime.NewEngine(d, h.store, append(base, opts...)...)
	require.NoError(t, err)
	return h
}

func (h *harness) turn(tt domain.TurnType) domain.ConversationTurn {
	h.seq++
	return domain.ConversationTurn{
		ID:             "t" + strconv.Itoa(h.seq),
		Type:           tt,
		ChannelID:      ref.ChannelID,
		ConversationID: ref.ConversationID,
		From:           user,
		Recipient:      bot,
		Locale:         "en-US",
	}
}

func (h *harness) send(tr domain.ConversationTurn) []domain.Activity {
	h.t.Helper()
	out, err := h.engine.ProcessTurn(context.Background(), tr)
	require.NoError(h.t, err)
	return out
}

func (h *harness) message(text string) []domain.Activity {
	tr := h.turn(domain.TurnMessage)
	tr.Text = text
	return h.send(tr)
}

func (h *harness) joined(members ...domain.ChannelAccount) []domain.Activity {
	tr := h.turn(domain.TurnConversationUpdate)
	tr.MembersAdded = members
	return h.send(tr)
}

func (h *harness) countOutcome(o domain.PromptOutcome) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, got := range h.outcomes {
		if got == o {
			n++
		}
	}
	return n
}

func texts(activities []domain.Activity) []string {
	out := make([]string, 0, len(activities))
	for _, a := range activities {
		out = append(out, a.Text)
	}
	return out
}

func signInCard(t *testing.T, a domain.Activity) domain.SignInCard {
	t.Helper()
	require.Len(t, a.Attachments, 1)
	assert.Equal(t, domain.ContentTypeSignIn, a.Attachments[0].ContentType)
	card, ok := a.Attachments[0].Content.(domain.SignInCard)
	require.True(t, ok)
	return card
}

func TestEngine_WelcomeOncePerHumanMember(t *testing.T) {
	h := newBotHarness(t)

	out := h.joined(bot, user)
	require.Len(t, out, 1)
	assert.Equal(t, "Hello, I'm the multi-turn prompt bot. Please send a message to get started!", out[0].Text)
	assert.Equal(t, user, out[0].Recipient)

	assert.Empty(t, h.joined(bot))
}

func TestEngine_FirstMessageStartsSignIn(t *testing.T) {
	h := newBotHarness(t)

	out := h.message("hello")
	require.Len(t, out, 1, "one sign-in message")
	card := signInCard(t, out[0])
	assert.Equal(t, "Sign in", card.Title)
	assert.Equal(t, "Please sign in so I can show you your token.", card.Text)
	assert.Equal(t, connection, card.ConnectionName)
	assert.NotEmpty(t, card.URL)

	status, err := h.engine.Liveness(context.Background(), ref)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, oauthbot.LoginPrompt, status.PromptID)
	assert.Equal(t, 0, status.Attempt)
	assert.False(t, status.Expired)

	stack, err := h.engine.Stack(context.Background(), ref)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(stack), 2)
	assert.Equal(t, domain.FramePrompt, stack.Top().Kind)
	assert.Equal(t, domain.FrameRule, stack.Parent().Kind, "rule frame waits below the prompt")
}

func TestEngine_MagicCodeFlow(t *testing.T) {
	h := newBotHarness(t)
	h.message("hello")

	code := h.auth.Approve(user.ID, connection)
	out := h.message(code)
	assert.Equal(t, []string{"You are now logged in.", "Would you like to view your token?"}, texts(out))

	out = h.message("yes")
	require.Len(t, out, 1)
	assert.True(t, strings.HasPrefix(out[0].Text, "Here is your token tok-"), out[0].Text)
	assert.Empty(t, out[0].Attachments, "cached token needs no new sign-in")

	status, err := h.engine.Liveness(context.Background(), ref)
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestEngine_ConfirmDeclined(t *testing.T) {
	h := newBotHarness(t)
	h.auth.Issue(user.ID, connection, "cached")

	out := h.message("hello")
	assert.Equal(t, []string{"You are now logged in.", "Would you like to view your token?"}, texts(out))

	out = h.message("no")
	assert.Equal(t, []string{"Great. Type anything to continue."}, texts(out))
	assert.Equal(t, 0, h.countOutcome(domain.PromptRetrying))
}

func TestEngine_ConfirmRetriesAreBounded(t *testing.T) {
	h := newBotHarness(t)
	h.auth.Issue(user.ID, connection, "cached")
	h.message("hello")

	reprompt := "Please answer yes or no. Would you like to view your token?"
	var sent []string
	for i := 0; i < 3; i++ {
		sent = append(sent, texts(h.message("maybe"))...)
	}

	reprompts := 0
	for _, s := range sent {
		if s == reprompt {
			reprompts++
		}
	}
	assert.Equal(t, 2, reprompts)
	assert.Equal(t, 2, h.countOutcome(domain.PromptRetrying))
	assert.Equal(t, 1, h.countOutcome(domain.PromptCancelled))
	assert.Equal(t, "Great. Type anything to continue.", sent[len(sent)-1])
}

func TestEngine_TokenEvent(t *testing.T) {
	h := newBotHarness(t)
	h.message("hello")

	ev := h.turn(domain.TurnEvent)
	ev.Name = domain.EventTokenResponse
	ev.Value = map[string]any{"connectionName": connection, "token": "from-channel"}
	out := h.send(ev)
	assert.Equal(t, []string{"You are now logged in.", "Would you like to view your token?"}, texts(out))

	tok, err := h.auth.GetToken(context.Background(), user.ID, connection)
	require.NoError(t, err)
	assert.Equal(t, "from-channel", tok.Token, "channel token is handed to the connection")

	out = h.message("yes")
	require.Len(t, out, 1)
	assert.Equal(t, "Here is your token from-channel", out[0].Text)
	assert.Empty(t, out[0].Attachments, "no second sign-in card")
}

func TestEngine_TokenEventForOtherConnectionIsRejected(t *testing.T) {
	h := newBotHarness(t)
	h.message("hello")

	ev := h.turn(domain.TurnEvent)
	ev.Name = domain.EventTokenResponse
	ev.Value = domain.TokenResponse{ConnectionName: "other", Token: "x"}
	out := h.send(ev)
	require.Len(t, out, 1)
	signInCard(t, out[0])
	assert.Equal(t, "Please sign in using the card above, or type the code shown after you sign in.", out[0].Text)
}

func TestEngine_SignInTimesOut(t *testing.T) {
	h := newBotHarness(t)
	h.message("hello")

	h.now = h.now.Add(16 * time.Second)
	status, err := h.engine.Liveness(context.Background(), ref)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.Expired, "liveness reports without acting")

	code := h.auth.Approve(user.ID, connection)
	out := h.message(code)
	assert.Equal(t, []string{"Login was not successful please try again."}, texts(out))
	assert.Equal(t, 1, h.countOutcome(domain.PromptTimedOut))
}

func TestEngine_SignInAttemptsExhausted(t *testing.T) {
	h := newBotHarness(t)
	h.message("hello")

	out := h.message("what?")
	require.Len(t, out, 1)
	signInCard(t, out[0])
	h.message("123")

	out = h.message("still no")
	assert.Equal(t, []string{"Login was not successful please try again."}, texts(out))
	assert.Equal(t, 2, h.countOutcome(domain.PromptRetrying))
	assert.Equal(t, 1, h.countOutcome(domain.PromptCancelled))
}

func TestEngine_MembershipChangeDoesNotAnswerPrompt(t *testing.T) {
	h := newBotHarness(t)
	h.message("hello")

	assert.Empty(t, h.joined(domain.ChannelAccount{ID: "u2"}))
	status, err := h.engine.Liveness(context.Background(), ref)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, 0, status.Attempt)
}

func TestEngine_LogoutNeverReusesToken(t *testing.T) {
	h := newBotHarness(t)
	h.auth.Issue(user.ID, connection, "old-token")
	h.message("hello")
	h.message("no")

	out := h.message("logout")
	assert.Equal(t, []string{"You have been signed out."}, texts(out))

	_, err := h.auth.GetToken(context.Background(), user.ID, connection)
	assert.ErrorIs(t, err, domain.ErrNoToken)

	out = h.message("hello again")
	require.Len(t, out, 1)
	signInCard(t, out[0])
}

func TestEngine_SignOutDropsPendingSignIn(t *testing.T) {
	h := newBotHarness(t)
	h.message("hello")

	require.NoError(t, h.engine.SignOut(context.Background(), ref, connection))

	status, err := h.engine.Liveness(context.Background(), ref)
	require.NoError(t, err)
	assert.Nil(t, status)
	assert.Equal(t, 1, h.countOutcome(domain.PromptSignedOut))

	out := h.message("hello")
	require.Len(t, out, 1)
	signInCard(t, out[0])
}

func TestEngine_RecognizerFailureFallsBackToUnknown(t *testing.T) {
	h := newBotHarness(t, runtime.WithRecognizer(ports.RecognizerFunc(
		func(context.Context, string, string) (domain.RecognizerResult, error) {
			return domain.RecognizerResult{}, errors.New("service unavailable")
		})))

	out := h.message("logout")
	require.Len(t, out, 1)
	signInCard(t, out[0])
	assert.Equal(t, 1, h.recFails)
}

func TestEngine_SurvivesRestart(t *testing.T) {
	h := newBotHarness(t)
	h.message("hello")

	// A second engine over the same store continues the conversation.
	restarted := newBotHarness(t)
	restarted.store = h.store
	d := restarted.engine.Dialog()
	templates, err := oauthbot.Templates()
	require.NoError(t, err)
	restarted.engine, err = runtime.NewEngine(d, h.store,
		runtime.WithAuthConnection(h.auth),
		runtime.WithTemplates(templates...),
		runtime.WithCommands(oauthbot.Commands(oauthbot.Options{Connection: connection})),
		runtime.WithClock(func() time.Time { return h.now }),
	)
	require.NoError(t, err)

	code := h.auth.Approve(user.ID, connection)
	out := restarted.message(code)
	assert.Equal(t, []string{"You are now logged in.", "Would you like to view your token?"}, texts(out))
}

type failingStore struct {
	*memory.Store
	fail bool
}

func (s *failingStore) Commit(ctx context.Context, diffs ...domain.StateDiff) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.Store.Commit(ctx, diffs...)
}

func TestEngine_CommitFailureSendsNothing(t *testing.T) {
	d, err := oauthbot.Dialog(oauthbot.Options{Connection: connection})
	require.NoError(t, err)
	templates, err := oauthbot.Templates()
	require.NoError(t, err)

	store := &failingStore{Store: memory.NewStore(), fail: true}
	var delivered int
	engine, err := runtime.NewEngine(d, store,
		runtime.WithAuthConnection(memory.NewAuth("")),
		runtime.WithTemplates(templates...),
		runtime.WithCommands(oauthbot.Commands(oauthbot.Options{Connection: connection})),
		runtime.WithSender(ports.SenderFunc(func(context.Context, string, []domain.Activity) error {
			delivered++
			return nil
		})),
	)
	require.NoError(t, err)

	turn := domain.ConversationTurn{ID: "t1", Type: domain.TurnMessage, ConversationID: "c1", From: user, Recipient: bot, Text: "hello"}
	out, err := engine.ProcessTurn(context.Background(), turn)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Zero(t, delivered)

	var te *runtime.TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, runtime.PhaseCommit, te.Phase)

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)

	store.fail = false
	out, err = engine.ProcessTurn(context.Background(), turn)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, 1, delivered)
}

func TestEngine_InvalidTurn(t *testing.T) {
	h := newBotHarness(t)
	_, err := h.engine.ProcessTurn(context.Background(), domain.ConversationTurn{Type: domain.TurnMessage})
	assert.ErrorIs(t, err, domain.ErrInvalidTurn)

	_, err = h.engine.ProcessTurn(context.Background(), domain.ConversationTurn{Type: "typing", ConversationID: "c1"})
	assert.ErrorIs(t, err, domain.ErrInvalidTurn)
}

func TestEngine_BuildErrors(t *testing.T) {
	store := memory.NewStore()

	b := dsl.New("bad")
	b.OnUnknownIntent().Template("Missing", nil)
	d, err := b.Build()
	require.NoError(t, err)
	_, err = runtime.NewEngine(d, store)
	assert.ErrorIs(t, err, domain.ErrUnknownTemplate)

	b = dsl.New("bad")
	b.OnUnknownIntent().Call("nope")
	d, err = b.Build()
	require.NoError(t, err)
	_, err = runtime.NewEngine(d, store)
	assert.ErrorIs(t, err, domain.ErrUnknownCommand)

	b = dsl.New("bad")
	b.OAuthPrompt("login", "conversation.token", connection)
	b.OnUnknownIntent().Prompt("login")
	d, err = b.Build()
	require.NoError(t, err)
	_, err = runtime.NewEngine(d, store, runtime.WithAuthConnection(memory.NewAuth("")))
	assert.Error(t, err, "tokens must stay in turn scope")

	b = dsl.New("bad")
	b.OnUnknownIntent().If("a ==", nil, nil)
	d, err = b.Build()
	require.NoError(t, err)
	_, err = runtime.NewEngine(d, store)
	var be *runtime.BuildError
	assert.ErrorAs(t, err, &be)
}

func newDialogEngine(t *testing.T, b *dsl.Builder, cmds *registry.Registry) (*runtime.Engine, *memory.Store) {
	t.Helper()
	d, err := b.Build()
	require.NoError(t, err)
	store := memory.NewStore()
	opts := []runtime.Option{}
	if cmds != nil {
		opts = append(opts, runtime.WithCommands(cmds))
	}
	engine, err := runtime.NewEngine(d, store, opts...)
	require.NoError(t, err)
	return engine, store
}

func say(t *testing.T, e *runtime.Engine, text string) []string {
	t.Helper()
	out, err := e.ProcessTurn(context.Background(), domain.ConversationTurn{
		Type: domain.TurnMessage, ConversationID: "c1", From: user, Recipient: bot, Text: text,
	})
	require.NoError(t, err)
	return texts(out)
}

func TestEngine_ForEachResumesAcrossTurns(t *testing.T) {
	cmds := registry.NewRegistry()
	cmds.RegisterFunc("seed", func(ctx context.Context, dc registry.DialogContext) (registry.Signal, error) {
		return registry.SignalContinue, dc.Set("conversation.items", []any{"a", "b"})
	})

	b := dsl.New("loop")
	b.TextPrompt("ask", "dialog.answer", "Value for ${$foreach.value}?")
	b.OnUnknownIntent().
		Call("seed").
		Do(dsl.ForEach("conversation.items", "",
			dsl.Prompt("ask"),
			dsl.Send("${$foreach.index}:${$foreach.value}=${$answer}"))).
		Send("done")
	engine, _ := newDialogEngine(t, b, cmds)

	assert.Equal(t, []string{"Value for a?"}, say(t, engine, "go"))
	assert.Equal(t, []string{"0:a=1", "Value for b?"}, say(t, engine, "1"))
	assert.Equal(t, []string{"1:b=2", "done"}, say(t, engine, "2"))
}

func TestEngine_TurnScopeStartsEmpty(t *testing.T) {
	b := dsl.New("turns")
	b.OnIntent("never").Send("x")
	b.OnUnknownIntent().
		If("exists(turn.marker)",
			dsl.Actions(dsl.Send("leaked")),
			dsl.Actions(dsl.Send("clean"), dsl.Set("turn.marker", "true"), dsl.Set("conversation.count", "conversation.count + 1")))
	engine, store := newDialogEngine(t, b, nil)

	assert.Equal(t, []string{"clean"}, say(t, engine, "one"))
	assert.Equal(t, []string{"clean"}, say(t, engine, "two"))

	rec, err := store.Load(context.Background(), "conversation/default/c1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, rec["count"])
	assert.NotContains(t, rec, "marker")
}

func TestEngine_RecognizedResultInTurnScope(t *testing.T) {
	b := dsl.New("weather")
	b.OnIntent("Weather").Send("${turn.recognized.intent} in ${turn.recognized.entities.city}")
	d, err := b.Build()
	require.NoError(t, err)
	rec := ports.RecognizerFunc(func(ctx context.Context, text, locale string) (domain.RecognizerResult, error) {
		return domain.RecognizerResult{Intent: "Weather", Confidence: 0.8, Entities: map[string]any{"city": "Lisbon"}}, nil
	})
	engine, err := runtime.NewEngine(d, memory.NewStore(), runtime.WithRecognizer(rec))
	require.NoError(t, err)

	assert.Equal(t, []string{"Weather in Lisbon"}, say(t, engine, "forecast?"))
}

func TestEngine_CompleteClearsStack(t *testing.T) {
	b := dsl.New("done")
	b.OnUnknownIntent().Send("bye").Complete().Send("unreachable")
	engine, store := newDialogEngine(t, b, nil)

	assert.Equal(t, []string{"bye"}, say(t, engine, "hi"))

	rec, err := store.Load(context.Background(), "conversation/default/c1")
	if err == nil {
		assert.NotContains(t, rec, domain.KeyStack)
	} else {
		assert.ErrorIs(t, err, domain.ErrStateNotFound)
	}
}

func TestEngine_ConditionErrorCountsAsFalse(t *testing.T) {
	b := dsl.New("cond")
	b.OnUnknownIntent().If("turn.activity.text > 3", dsl.Actions(dsl.Send("bigger")), dsl.Actions(dsl.Send("fallback")))
	engine, _ := newDialogEngine(t, b, nil)

	assert.Equal(t, []string{"fallback"}, say(t, engine, "abc"))
}

func TestEngine_SerialisesTurnsOfOneConversation(t *testing.T) {
	b := dsl.New("count")
	b.OnUnknownIntent().Set("conversation.count", "conversation.count + 1")
	engine, store := newDialogEngine(t, b, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.ProcessTurn(context.Background(), domain.ConversationTurn{
				Type: domain.TurnMessage, ConversationID: "c1", From: user, Text: "inc",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := store.Load(context.Background(), "conversation/default/c1")
	require.NoError(t, err)
	assert.EqualValues(t, 20, rec["count"])
}

func TestEngine_SerialisesUserStateAcrossConversations(t *testing.T) {
	b := dsl.New("count")
	b.OnUnknownIntent().Set("user.count", "user.count + 1")
	engine, store := newDialogEngine(t, b, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(conv string) {
			defer wg.Done()
			_, err := engine.ProcessTurn(context.Background(), domain.ConversationTurn{
				Type: domain.TurnMessage, ConversationID: conv, From: user, Text: "inc",
			})
			assert.NoError(t, err)
		}("c" + strconv.Itoa(i%4))
	}
	wg.Wait()

	rec, err := store.Load(context.Background(), "user/default/u1")
	require.NoError(t, err)
	assert.EqualValues(t, 20, rec["count"])
}
