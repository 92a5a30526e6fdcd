package parley

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/oauthbot"
	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/adapters/keyword"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/adapters/yamlfile"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/registry"
)

// Engine is the high-level entry point of the library.
// It wraps the internal runtime and wires sensible defaults for embedders.
type Engine struct {
	runtime *runtime.Engine

	source     ports.DialogSource
	templates  []ports.TemplateSource
	store      ports.StateStore
	recognizer ports.Recognizer
	auth       ports.AuthConnection
	commands   *registry.Registry
	reference  *oauthbot.Options

	runtimeOpts []runtime.Option
	logger      *slog.Logger
	Name        string
}

// Option configures the Engine.
type Option func(*Engine)

// WithDialog uses an in-memory dialog, typically built with pkg/dsl.
func WithDialog(d domain.Dialog) Option {
	return func(e *Engine) {
		e.source = memory.NewDialogSource(d)
	}
}

// WithDialogSource injects a custom DialogSource, bypassing the YAML file loader.
func WithDialogSource(src ports.DialogSource) Option {
	return func(e *Engine) {
		e.source = src
	}
}

// WithTemplates adds template sources. Later sources replace earlier templates of the same name.
func WithTemplates(sources ...ports.TemplateSource) Option {
	return func(e *Engine) {
		e.templates = append(e.templates, sources...)
	}
}

// WithStore sets the state store (default: in-memory).
func WithStore(s ports.StateStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithRecognizer sets the intent recognizer.
func WithRecognizer(r ports.Recognizer) Option {
	return func(e *Engine) {
		e.recognizer = r
	}
}

// WithAuthConnection sets the token service OAuth prompts sign in against.
func WithAuthConnection(a ports.AuthConnection) Option {
	return func(e *Engine) {
		e.auth = a
	}
}

// WithCommands sets the callbacks RunCallback actions resolve against.
func WithCommands(r *registry.Registry) Option {
	return func(e *Engine) {
		e.commands = r
	}
}

// WithSender delivers proactive messages, such as prompt timeouts, outside of a turn.
func WithSender(s ports.Sender) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithSender(s))
	}
}

// WithLocker serialises turns of a conversation across replicas.
func WithLocker(l ports.DistributedLocker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithLocker(l), runtime.WithLockTTL(ttl))
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithLifecycleHooks(hooks))
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMaxAttempts bounds the attempts of prompts that do not set their own.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithMaxAttempts(n))
	}
}

// WithPromptTimeout sets the timeout of prompts that do not set their own.
func WithPromptTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithPromptTimeout(d))
	}
}

// WithDefaultLocale sets the locale used when a turn carries none.
func WithDefaultLocale(locale string) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithDefaultLocale(locale))
	}
}

// WithReferenceBot runs the built-in sign-in bot for connection. Its dialog, templates,
// sign-out callback and logout phrases fill whatever the other options leave unset.
// Without WithAuthConnection it signs in against an in-memory token service.
func WithReferenceBot(connection string) Option {
	return func(e *Engine) {
		e.reference = &oauthbot.Options{Connection: connection}
	}
}

// New initializes a new Engine.
// By default the dialog is read from the YAML file at path. When WithDialog,
// WithDialogSource or WithReferenceBot is given, path is only used as a label.
func New(path string, opts ...Option) (*Engine, error) {
	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}

	if path != "" {
		eng.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if eng.source == nil && eng.reference == nil {
		if path == "" {
			return nil, fmt.Errorf("path is required when no dialog is provided")
		}
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("invalid path: %w", err)
		}
		eng.source = yamlfile.NewDialog(absPath)
	}

	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.Name != "" {
		eng.logger = eng.logger.With("dialog", eng.Name)
	}
	if eng.store == nil {
		eng.store = memory.NewStore()
	}

	ctx := context.Background()
	dialog, templates, err := eng.load(ctx)
	if err != nil {
		return nil, err
	}

	runtimeOpts := []runtime.Option{
		runtime.WithLogger(eng.logger),
		runtime.WithTemplates(templates...),
	}
	if eng.recognizer != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithRecognizer(eng.recognizer))
	}
	if eng.auth != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithAuthConnection(eng.auth))
	}
	if eng.commands != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithCommands(eng.commands))
	}
	runtimeOpts = append(runtimeOpts, eng.runtimeOpts...)

	eng.runtime, err = runtime.NewEngine(dialog, eng.store, runtimeOpts...)
	if err != nil {
		return nil, err
	}
	return eng, nil
}

// load resolves the dialog and the merged templates, filling gaps from the reference bot.
func (e *Engine) load(ctx context.Context) (domain.Dialog, []domain.Template, error) {
	var templates []domain.Template
	if e.reference != nil {
		builtin, err := oauthbot.Templates()
		if err != nil {
			return domain.Dialog{}, nil, err
		}
		templates = builtin
		if e.commands == nil {
			e.commands = oauthbot.Commands(*e.reference)
		}
		if e.auth == nil {
			e.auth = memory.NewAuth("")
		}
		if e.recognizer == nil {
			if e.recognizer, err = keyword.FromMap(oauthbot.Intents()); err != nil {
				return domain.Dialog{}, nil, err
			}
		}
	}

	var dialog domain.Dialog
	var err error
	if e.source != nil {
		dialog, err = e.source.Dialog(ctx)
	} else {
		dialog, err = oauthbot.Dialog(*e.reference)
	}
	if err != nil {
		return domain.Dialog{}, nil, fmt.Errorf("failed to load dialog: %w", err)
	}

	for _, src := range e.templates {
		own, err := src.Templates(ctx)
		if err != nil {
			return domain.Dialog{}, nil, fmt.Errorf("failed to load templates: %w", err)
		}
		templates = overlay(templates, own)
	}
	return dialog, templates, nil
}

func overlay(base, own []domain.Template) []domain.Template {
	out := append([]domain.Template(nil), base...)
	at := make(map[string]int, len(out))
	for i, t := range out {
		at[t.Name] = i
	}
	for _, t := range own {
		if i, ok := at[t.Name]; ok {
			out[i] = t
			continue
		}
		at[t.Name] = len(out)
		out = append(out, t)
	}
	return out
}

// ProcessTurn runs one inbound activity and returns the replies it produced.
func (e *Engine) ProcessTurn(ctx context.Context, turn domain.ConversationTurn) ([]domain.Activity, error) {
	return e.runtime.ProcessTurn(ctx, turn)
}

// SignOut invalidates the user's token for connection and drops any pending sign-in prompt.
func (e *Engine) SignOut(ctx context.Context, ref domain.ConversationRef, connection string) error {
	return e.runtime.SignOut(ctx, ref, connection)
}

// Pending reports the prompt a conversation waits on, or nil when it is idle.
func (e *Engine) Pending(ctx context.Context, ref domain.ConversationRef) (*domain.PromptState, error) {
	stack, err := e.runtime.Stack(ctx, ref)
	if err != nil {
		return nil, err
	}
	return stack.PendingPrompt(), nil
}

// Stack returns the persisted dialog stack of a conversation.
func (e *Engine) Stack(ctx context.Context, ref domain.ConversationRef) (domain.DialogStack, error) {
	return e.runtime.Stack(ctx, ref)
}

// Dialog returns the dialog the engine runs.
func (e *Engine) Dialog() domain.Dialog {
	return e.runtime.Dialog()
}

// Templates returns the names of the loaded templates.
func (e *Engine) Templates() []string {
	return e.runtime.Templates()
}

// Auth returns the token service OAuth prompts sign in against, if any.
func (e *Engine) Auth() ports.AuthConnection {
	return e.auth
}

// Store returns the state store the engine persists to.
func (e *Engine) Store() ports.StateStore {
	return e.store
}
