package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/registry"
	"github.com/aretw0/parley/pkg/session"
)

// Defaults applied when the corresponding option is not given.
const (
	DefaultMaxAttempts       = 3
	DefaultRecognizerTimeout = 5 * time.Second
	DefaultLocale            = "en"
)

// Engine is the turn processor of one dialog.
// It is safe for concurrent use: turns of different conversations run in parallel,
// turns of the same conversation are serialised.
type Engine struct {
	dialog    domain.Dialog
	rules     []compiledRule
	selector  *Selector
	prompts   map[string]*compiledPrompt
	templates *Templates

	rawTemplates []domain.Template
	commands     *registry.Registry
	recognizer   ports.Recognizer
	auth         ports.AuthConnection
	sender       ports.Sender
	store        ports.StateStore
	sessions     *session.Manager
	locker       ports.DistributedLocker
	lockTTL      time.Duration

	logger *slog.Logger
	hooks  domain.LifecycleHooks
	clock  func() time.Time

	recognizerTimeout time.Duration
	promptTimeout     time.Duration
	maxAttempts       int
	defaultLocale     string
}

// Option configures the Engine.
type Option func(*Engine)

// WithRecognizer sets the intent recognizer. Without one every message is the unknown intent.
func WithRecognizer(r ports.Recognizer) Option {
	return func(e *Engine) { e.recognizer = r }
}

// WithAuthConnection sets the identity provider used by oauth prompts and sign-out.
func WithAuthConnection(a ports.AuthConnection) Option {
	return func(e *Engine) { e.auth = a }
}

// WithCommands sets the registry RunCallback actions resolve against.
func WithCommands(r *registry.Registry) Option {
	return func(e *Engine) { e.commands = r }
}

// WithTemplates adds named templates.
func WithTemplates(templates ...domain.Template) Option {
	return func(e *Engine) { e.rawTemplates = append(e.rawTemplates, templates...) }
}

// WithSender delivers outbound activities after each successful commit.
func WithSender(s ports.Sender) Option {
	return func(e *Engine) { e.sender = s }
}

// WithLocker enables distributed locking of conversations.
func WithLocker(l ports.DistributedLocker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithLockTTL sets the distributed lock expiry.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.lockTTL = ttl }
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = hooks }
}

// WithClock replaces the wall clock (tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithRecognizerTimeout bounds each recognizer call.
func WithRecognizerTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.recognizerTimeout = d
		}
	}
}

// WithPromptTimeout sets the timeout of prompts that do not declare one (0 = none).
func WithPromptTimeout(d time.Duration) Option {
	return func(e *Engine) { e.promptTimeout = d }
}

// WithMaxAttempts sets the attempt bound of prompts that do not declare one.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithDefaultLocale sets the locale used when a turn carries none.
func WithDefaultLocale(locale string) Option {
	return func(e *Engine) {
		if locale != "" {
			e.defaultLocale = locale
		}
	}
}

// NewEngine compiles dialog and returns an engine persisting to store.
// Every expression, template reference, prompt reference and callback name is
// checked here; a dialog that builds never fails for those reasons at turn time.
func NewEngine(dialog domain.Dialog, store ports.StateStore, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	e := &Engine{
		dialog:            dialog,
		store:             store,
		logger:            logging.NewNop(),
		clock:             time.Now,
		recognizerTimeout: DefaultRecognizerTimeout,
		maxAttempts:       DefaultMaxAttempts,
		defaultLocale:     DefaultLocale,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.commands == nil {
		e.commands = registry.NewRegistry()
	}

	var err error
	if e.templates, err = NewTemplates(e.rawTemplates); err != nil {
		return nil, err
	}
	b := &builder{e: e}
	if e.rules, e.prompts, err = b.compileDialog(dialog); err != nil {
		return nil, err
	}
	e.selector = NewSelector(dialog.Triggers)

	sessionOpts := []session.Option{session.WithLogger(e.logger)}
	if e.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(e.locker))
	}
	if e.lockTTL > 0 {
		sessionOpts = append(sessionOpts, session.WithLockTTL(e.lockTTL))
	}
	e.sessions = session.NewManager(store, sessionOpts...)
	return e, nil
}

// Dialog returns the dialog definition the engine was built from.
func (e *Engine) Dialog() domain.Dialog { return e.dialog }

// Templates returns the template names known to the engine.
func (e *Engine) Templates() []string { return e.templates.Names() }

// Sessions returns the session manager guarding the store.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// ProcessTurn runs one inbound turn to completion and returns the activities it produced.
// State is committed atomically before anything is returned or sent; on error nothing is
// committed and no activity is released.
func (e *Engine) ProcessTurn(ctx context.Context, turn domain.ConversationTurn) ([]domain.Activity, error) {
	if err := validateTurn(turn); err != nil {
		return nil, err
	}
	start := e.clock()
	logger := e.logger.With("conversation_id", turn.ConversationID, "turn_id", turn.ID)
	e.emitTurnStart(ctx, turn, start)

	var ts *turnState
	// The user record is shared by every conversation of the user.
	keys := []string{turn.ConversationKey(), turn.UserKey()}
	err := e.sessions.WithLocks(ctx, keys, func(ctx context.Context) error {
		var err error
		if ts, err = e.loadTurnState(ctx, turn, logger); err != nil {
			return &TurnError{Phase: PhaseLoad, ConversationID: turn.ConversationID, Err: err}
		}
		if err := e.runTurn(ctx, ts); err != nil {
			return &TurnError{Phase: PhaseExecute, ConversationID: turn.ConversationID, Err: err}
		}
		diffs, err := ts.diffs()
		if err != nil {
			return &TurnError{Phase: PhaseCommit, ConversationID: turn.ConversationID, Err: err}
		}
		if len(diffs) == 0 {
			return nil
		}
		if err := e.store.Commit(ctx, diffs...); err != nil {
			return &TurnError{Phase: PhaseCommit, ConversationID: turn.ConversationID, Err: err}
		}
		return nil
	})
	if err != nil {
		var te *TurnError
		if !errors.As(err, &te) {
			// Lock acquisition failed before anything was loaded.
			err = &TurnError{Phase: PhaseLoad, ConversationID: turn.ConversationID, Err: err}
		}
		logger.Error("turn failed", "err", err)
		e.emitTurnEnd(ctx, turn, ts, start, err)
		return nil, err
	}

	activities := ts.outbox
	if e.sender != nil && len(activities) > 0 {
		if err := e.sender.Send(ctx, turn.ConversationID, activities); err != nil {
			err = &TurnError{Phase: PhaseSend, ConversationID: turn.ConversationID, Err: err}
			logger.Error("delivery failed after commit", "err", err)
			e.emitTurnEnd(ctx, turn, ts, start, err)
			return activities, err
		}
	}

	logger.Debug("turn processed",
		"intent", ts.intent,
		"rule", ts.rule,
		"sent", len(activities),
		"stack_depth", len(ts.stack),
	)
	e.emitTurnEnd(ctx, turn, ts, start, nil)
	return activities, nil
}

func validateTurn(turn domain.ConversationTurn) error {
	if turn.ConversationID == "" {
		return fmt.Errorf("%w: missing conversation id", domain.ErrInvalidTurn)
	}
	switch turn.Type {
	case domain.TurnMessage, domain.TurnConversationUpdate, domain.TurnEvent:
		return nil
	}
	return fmt.Errorf("%w: unsupported type %q", domain.ErrInvalidTurn, turn.Type)
}

// runTurn is the per-turn state machine: clear turn scope, then either continue the
// pending prompt or recognize and fire a rule.
func (e *Engine) runTurn(ctx context.Context, ts *turnState) error {
	ts.scopes.Clear(domain.ScopeTurn)
	if err := ts.scopes.Set(domain.ScopeTurn, "activity", ts.turn.AsMap()); err != nil {
		return err
	}

	if len(ts.stack) == 0 {
		ts.stack.Push(domain.DialogFrame{Kind: domain.FrameRoot, DialogID: e.dialog.ID})
	}

	switch top := ts.stack.Top(); top.Kind {
	case domain.FramePrompt:
		ended, err := e.continuePrompt(ctx, ts)
		if err != nil || !ended {
			return err
		}
		return e.resumeRule(ctx, ts)
	case domain.FrameRule:
		// Only a prompt suspends a rule; a bare rule frame on top is left over and abandoned.
		ts.logger.Warn("abandoning rule frame without pending prompt", "rule_index", top.RuleIndex)
		for t := ts.stack.Top(); t != nil && t.Kind == domain.FrameRule; t = ts.stack.Top() {
			ts.stack.Pop()
		}
		if len(ts.stack) == 0 {
			ts.stack.Push(domain.DialogFrame{Kind: domain.FrameRoot, DialogID: e.dialog.ID})
		}
	}
	return e.fireRule(ctx, ts)
}

func (e *Engine) fireRule(ctx context.Context, ts *turnState) error {
	intent := ""
	if ts.turn.Type == domain.TurnMessage {
		var err error
		if intent, err = e.recognize(ctx, ts); err != nil {
			return err
		}
	}
	ts.intent = intent

	idx, ok := e.selector.Select(ts.turn, intent)
	if !ok {
		ts.logger.Debug("no rule matched", "turn_type", ts.turn.Type, "intent", intent)
		return nil
	}
	rule := e.rules[idx]
	ts.rule = rule.rule.Name()
	ts.logger.Debug("rule fired", "rule", ts.rule, "intent", intent)
	e.emitRuleFired(ctx, ts)

	ts.stack.Push(domain.DialogFrame{
		Kind:      domain.FrameRule,
		DialogID:  e.dialog.ID,
		RuleIndex: idx,
		Locals:    make(map[string]any),
	})
	return e.runRuleFrame(ctx, ts, len(ts.stack)-1, nil)
}

// resumeRule continues the rule frame left on top after a prompt ended.
func (e *Engine) resumeRule(ctx context.Context, ts *turnState) error {
	top := ts.stack.Top()
	if top == nil || top.Kind != domain.FrameRule {
		return nil
	}
	return e.runRuleFrame(ctx, ts, len(ts.stack)-1, top.Cursor)
}

func (e *Engine) runRuleFrame(ctx context.Context, ts *turnState, frameIdx int, resume []domain.Position) error {
	frame := &ts.stack[frameIdx]
	if frame.RuleIndex < 0 || frame.RuleIndex >= len(e.rules) {
		ts.stack = ts.stack[:frameIdx]
		return fmt.Errorf("%w: rule index %d out of range", domain.ErrCorruptStack, frame.RuleIndex)
	}
	if frame.Locals == nil {
		frame.Locals = make(map[string]any)
	}
	ts.scopes.BindDialog(frame.Locals)
	if ts.rule == "" {
		ts.rule = e.rules[frame.RuleIndex].rule.Name()
	}

	x := &execution{engine: e, ts: ts, frameIdx: frameIdx}
	out, path, err := x.run(ctx, e.rules[frame.RuleIndex].ops, resume)
	if err != nil {
		return err
	}

	switch out {
	case outcomeSuspended:
		ts.stack[frameIdx].Cursor = path
		return nil
	case outcomeComplete:
		ts.stack = ts.stack[:frameIdx]
		if top := ts.stack.Top(); top != nil && top.Kind == domain.FrameRoot {
			ts.stack.Pop()
		}
	default:
		ts.stack = ts.stack[:frameIdx]
	}
	ts.scopes.BindDialog(nil)
	return nil
}

func (e *Engine) recognize(ctx context.Context, ts *turnState) (string, error) {
	result := domain.RecognizerResult{Intent: domain.IntentUnknown}
	if e.recognizer != nil {
		rctx, cancel := context.WithTimeout(ctx, e.recognizerTimeout)
		res, err := e.recognizer.Recognize(rctx, ts.turn.Text, e.locale(ts))
		cancel()
		if err != nil {
			ts.logger.Warn("recognizer failed, falling back to unknown intent", "err", err)
			e.emitRecognizerFail(ctx, ts, err)
		} else {
			result = res
		}
	}
	result.Intent = normalizeIntent(result.Intent)
	if result.Intent == domain.IntentUnknown && result.Confidence > 0 {
		result.Confidence = 0
	}

	recognized := map[string]any{
		"intent":     result.Intent,
		"confidence": result.Confidence,
	}
	if len(result.Entities) > 0 {
		recognized["entities"] = result.Entities
	}
	if err := ts.scopes.Set(domain.ScopeTurn, "recognized", recognized); err != nil {
		return "", err
	}
	return result.Intent, nil
}

func (e *Engine) locale(ts *turnState) string {
	if ts.turn.Locale != "" {
		return ts.turn.Locale
	}
	return e.defaultLocale
}

// PromptStatus describes a prompt awaiting input.
type PromptStatus struct {
	PromptID    string            `json:"prompt_id"`
	Kind        domain.PromptKind `json:"kind"`
	Attempt     int               `json:"attempt"`
	MaxAttempts int               `json:"max_attempts"`
	StartedAt   time.Time         `json:"started_at"`
	Deadline    time.Time         `json:"deadline,omitempty"`
	Expired     bool              `json:"expired"`
}

// Liveness reports the pending prompt of a conversation, if any.
// It never changes state: an expired prompt times out on the conversation's next turn.
func (e *Engine) Liveness(ctx context.Context, ref domain.ConversationRef) (*PromptStatus, error) {
	rec, err := loadRecord(ctx, e.store, ref.ConversationKey())
	if err != nil {
		return nil, err
	}
	stack, err := decodeStack(rec[domain.KeyStack])
	if err != nil {
		return nil, err
	}
	ps := stack.PendingPrompt()
	if ps == nil {
		return nil, nil
	}
	status := &PromptStatus{
		PromptID:    ps.PromptID,
		Kind:        ps.Kind,
		Attempt:     ps.Attempt,
		MaxAttempts: ps.MaxAttempts,
		StartedAt:   time.UnixMilli(ps.StartedAt),
		Expired:     ps.Expired(e.clock().UnixMilli()),
	}
	if ps.Deadline > 0 {
		status.Deadline = time.UnixMilli(ps.Deadline)
	}
	return status, nil
}

// Stack returns the persisted dialog stack of a conversation (empty when idle).
func (e *Engine) Stack(ctx context.Context, ref domain.ConversationRef) (domain.DialogStack, error) {
	rec, err := loadRecord(ctx, e.store, ref.ConversationKey())
	if err != nil {
		return nil, err
	}
	return decodeStack(rec[domain.KeyStack])
}

// SignOut invalidates the user's token for connection and drops any sign-in prompt
// pending in the conversation. It may be called at any time, outside of a turn.
func (e *Engine) SignOut(ctx context.Context, ref domain.ConversationRef, connection string) error {
	if e.auth == nil {
		return fmt.Errorf("sign out: %w", errNoAuth)
	}
	logger := e.logger.With("conversation_id", ref.ConversationID, "connection", connection)
	return e.sessions.WithLock(ctx, ref.ConversationKey(), func(ctx context.Context) error {
		if err := e.auth.SignOut(ctx, ref.UserID, connection); err != nil {
			return fmt.Errorf("sign out of %s: %w", connection, err)
		}
		key := ref.ConversationKey()
		rec, err := loadRecord(ctx, e.store, key)
		if err != nil || rec == nil {
			return err
		}
		stack, err := decodeStack(rec[domain.KeyStack])
		if err != nil {
			return err
		}
		if !e.dropSignIn(ctx, &stack, connection, ref.ConversationID) {
			return nil
		}
		diff := domain.StateDiff{ID: key}
		if len(stack) == 0 {
			diff.Deleted = []string{domain.KeyStack}
		} else {
			encoded, err := encodeStack(stack)
			if err != nil {
				return err
			}
			diff.Set = map[string]any{domain.KeyStack: encoded}
		}
		logger.Info("sign-in in flight cancelled by sign out")
		return e.store.Commit(ctx, diff)
	})
}

// dropSignIn pops pending oauth prompts of connection together with the rule frames
// that were waiting on them. It reports whether the stack changed.
func (e *Engine) dropSignIn(ctx context.Context, stack *domain.DialogStack, connection, conversationID string) bool {
	changed := false
	for {
		ps := stack.PendingPrompt()
		if ps == nil {
			break
		}
		cp, ok := e.prompts[ps.PromptID]
		if !ok || cp.spec.Kind != domain.PromptOAuth || cp.spec.ConnectionName != connection {
			break
		}
		stack.Pop()
		if top := stack.Top(); top != nil && top.Kind == domain.FrameRule {
			stack.Pop()
		}
		e.emitPromptOutcome(ctx, conversationID, "", cp, ps.Attempt, domain.PromptSignedOut)
		changed = true
	}
	return changed
}
