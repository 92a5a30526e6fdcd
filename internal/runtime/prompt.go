package runtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aretw0/parley/internal/compiler"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/mitchellh/mapstructure"
)

// magicCode is the shape of the code a user types after signing in out of band.
var magicCode = regexp.MustCompile(`^\d{6}$`)

// beginPrompt enters Prompting. finished is true when the prompt completed without
// waiting for input (a cached token, or a sign-in that could not start).
func (e *Engine) beginPrompt(ctx context.Context, ts *turnState, cp *compiledPrompt) (finished bool, err error) {
	ps := domain.PromptState{
		PromptID:    cp.spec.ID,
		Kind:        cp.spec.Kind,
		MaxAttempts: cp.maxAttempts,
		Property:    cp.spec.Property,
		StartedAt:   ts.nowMs(),
	}
	if cp.timeout > 0 {
		ps.Deadline = ts.now.Add(cp.timeout).UnixMilli()
	}
	// A prompt that ends without a value leaves its property unset.
	ts.scopes.Delete(cp.scope, cp.key)

	var activity struct {
		text        string
		attachments []domain.Attachment
	}

	switch cp.spec.Kind {
	case domain.PromptOAuth:
		tok, err := e.auth.GetToken(ctx, ts.turn.From.ID, cp.spec.ConnectionName)
		if err == nil && tok.Token != "" {
			ts.logger.Debug("token already available", "prompt", cp.spec.ID)
			return true, e.satisfy(ctx, ts, cp, ps.Attempt, tok.AsMap())
		}
		if err != nil && !errors.Is(err, domain.ErrNoToken) {
			ts.logger.Warn("token lookup failed, asking user to sign in", "prompt", cp.spec.ID, "err", err)
		}

		aff, err := e.auth.BeginSignIn(ctx, ts.turn.From.ID, cp.spec.ConnectionName)
		if err != nil {
			ts.logger.Warn("sign-in could not start", "prompt", cp.spec.ID, "err", err)
			return true, e.fail(ctx, ts, cp, ps.Attempt, domain.PromptCancelled)
		}
		card, err := e.signInCard(ts, cp, aff)
		if err != nil {
			return false, err
		}
		activity.attachments = []domain.Attachment{{ContentType: domain.ContentTypeSignIn, Content: card}}
		if cp.prompt != nil {
			if activity.text, err = e.render(ts, cp.prompt); err != nil {
				return false, err
			}
		}
	default:
		if activity.text, err = e.render(ts, cp.prompt); err != nil {
			return false, err
		}
	}

	ts.reply(activity.text, activity.attachments...)
	ts.stack.Push(domain.DialogFrame{
		Kind:     domain.FramePrompt,
		DialogID: e.dialog.ID,
		Prompt:   &ps,
	})
	ts.logger.Debug("prompt started", "prompt", cp.spec.ID, "kind", cp.spec.Kind)
	e.emitPromptBegin(ctx, ts, cp)
	return false, nil
}

// continuePrompt feeds the turn to the prompt on top of the stack.
// ended is true when the prompt left the stack and its parent should resume.
func (e *Engine) continuePrompt(ctx context.Context, ts *turnState) (ended bool, err error) {
	frameIdx := len(ts.stack) - 1
	ps := ts.stack[frameIdx].Prompt
	if ps == nil {
		ts.stack.Pop()
		return true, nil
	}
	if frameIdx > 0 && ts.stack[frameIdx-1].Kind == domain.FrameRule {
		parent := &ts.stack[frameIdx-1]
		if parent.Locals == nil {
			parent.Locals = make(map[string]any)
		}
		ts.scopes.BindDialog(parent.Locals)
	}

	cp, ok := e.prompts[ps.PromptID]
	if !ok {
		ts.logger.Warn("dropping prompt unknown to this dialog", "prompt", ps.PromptID)
		ts.stack.Pop()
		return true, nil
	}

	if ps.Expired(ts.nowMs()) {
		ts.logger.Debug("prompt timed out", "prompt", cp.spec.ID, "attempt", ps.Attempt)
		return true, e.fail(ctx, ts, cp, ps.Attempt, domain.PromptTimedOut)
	}

	// Membership changes are not answers.
	if ts.turn.Type == domain.TurnConversationUpdate {
		return false, nil
	}

	value, valid := e.validate(ctx, ts, cp)
	if valid {
		ts.logger.Debug("prompt satisfied", "prompt", cp.spec.ID, "attempt", ps.Attempt)
		return true, e.satisfy(ctx, ts, cp, ps.Attempt, value)
	}

	ps.Attempt++
	if ps.Attempt >= ps.MaxAttempts {
		ts.logger.Debug("prompt attempts exhausted", "prompt", cp.spec.ID, "attempt", ps.Attempt)
		return true, e.fail(ctx, ts, cp, ps.Attempt, domain.PromptCancelled)
	}

	text := ""
	if cp.reprompt != nil {
		if text, err = e.render(ts, cp.reprompt); err != nil {
			return false, err
		}
	}
	var attachments []domain.Attachment
	if cp.spec.Kind == domain.PromptOAuth {
		// The card is sent again so the user can still reach the sign-in page.
		aff, err := e.auth.BeginSignIn(ctx, ts.turn.From.ID, cp.spec.ConnectionName)
		if err == nil {
			card, err := e.signInCard(ts, cp, aff)
			if err != nil {
				return false, err
			}
			attachments = append(attachments, domain.Attachment{ContentType: domain.ContentTypeSignIn, Content: card})
		} else {
			ts.logger.Warn("sign-in link could not be refreshed", "prompt", cp.spec.ID, "err", err)
		}
	}
	ts.reply(text, attachments...)
	ts.logger.Debug("prompt retrying", "prompt", cp.spec.ID, "attempt", ps.Attempt)
	e.emitPromptOutcome(ctx, ts.turn.ConversationID, ts.turn.ID, cp, ps.Attempt, domain.PromptRetrying)
	return false, nil
}

// satisfy pops the prompt frame if present and stores value in the prompt's property.
func (e *Engine) satisfy(ctx context.Context, ts *turnState, cp *compiledPrompt, attempt int, value any) error {
	e.popPrompt(ts, cp)
	if err := ts.scopes.Set(cp.scope, cp.key, value); err != nil {
		return fmt.Errorf("prompt %s: %w", cp.spec.ID, err)
	}
	e.emitPromptOutcome(ctx, ts.turn.ConversationID, ts.turn.ID, cp, attempt, domain.PromptSatisfied)
	return nil
}

// fail pops the prompt frame if present and sends the failure text, if any.
func (e *Engine) fail(ctx context.Context, ts *turnState, cp *compiledPrompt, attempt int, outcome domain.PromptOutcome) error {
	e.popPrompt(ts, cp)
	if cp.failed != nil {
		text, err := e.render(ts, cp.failed)
		if err != nil {
			return err
		}
		ts.reply(text)
	}
	e.emitPromptOutcome(ctx, ts.turn.ConversationID, ts.turn.ID, cp, attempt, outcome)
	return nil
}

func (e *Engine) popPrompt(ts *turnState, cp *compiledPrompt) {
	if top := ts.stack.Top(); top != nil && top.Kind == domain.FramePrompt && top.Prompt != nil && top.Prompt.PromptID == cp.spec.ID {
		ts.stack.Pop()
	}
}

// validate interprets the turn as an answer to cp.
func (e *Engine) validate(ctx context.Context, ts *turnState, cp *compiledPrompt) (any, bool) {
	switch cp.spec.Kind {
	case domain.PromptText:
		if ts.turn.Type != domain.TurnMessage {
			return nil, false
		}
		text := strings.TrimSpace(ts.turn.Text)
		return text, text != ""
	case domain.PromptConfirm:
		if ts.turn.Type != domain.TurnMessage {
			return nil, false
		}
		v, ok := parseConfirm(ts.turn.Text, e.locale(ts))
		return v, ok
	case domain.PromptOAuth:
		tok, ok := e.validateToken(ctx, ts, cp)
		if !ok {
			return nil, false
		}
		return tok.AsMap(), true
	}
	return nil, false
}

func (e *Engine) validateToken(ctx context.Context, ts *turnState, cp *compiledPrompt) (domain.TokenRecord, bool) {
	conn := cp.spec.ConnectionName
	switch ts.turn.Type {
	case domain.TurnEvent:
		if ts.turn.Name != domain.EventTokenResponse {
			return domain.TokenRecord{}, false
		}
		var resp domain.TokenResponse
		switch v := ts.turn.Value.(type) {
		case domain.TokenResponse:
			resp = v
		case *domain.TokenResponse:
			if v != nil {
				resp = *v
			}
		default:
			if err := mapstructure.WeakDecode(v, &resp); err != nil {
				ts.logger.Warn("malformed token response", "err", err)
				return domain.TokenRecord{}, false
			}
		}
		if resp.Token == "" || (resp.ConnectionName != "" && resp.ConnectionName != conn) {
			return domain.TokenRecord{}, false
		}
		rec := domain.TokenRecord{ConnectionName: conn, Token: resp.Token}
		if cache, ok := e.auth.(ports.TokenCache); ok {
			if err := cache.Remember(ctx, ts.turn.From.ID, rec); err != nil {
				ts.logger.Warn("channel token not cached", "prompt", cp.spec.ID, "err", err)
			}
		}
		return rec, true
	case domain.TurnMessage:
		code := strings.TrimSpace(ts.turn.Text)
		if !magicCode.MatchString(code) {
			return domain.TokenRecord{}, false
		}
		tok, err := e.auth.Exchange(ctx, ts.turn.From.ID, conn, code)
		if err != nil || tok.Token == "" {
			ts.logger.Warn("magic code rejected", "prompt", cp.spec.ID, "err", err)
			return domain.TokenRecord{}, false
		}
		if tok.ConnectionName == "" {
			tok.ConnectionName = conn
		}
		return tok, true
	}
	return domain.TokenRecord{}, false
}

func (e *Engine) signInCard(ts *turnState, cp *compiledPrompt, aff domain.SignInAffordance) (domain.SignInCard, error) {
	card := domain.SignInCard{URL: aff.URL, ConnectionName: cp.spec.ConnectionName}
	var err error
	if cp.cardTitle != nil {
		if card.Title, err = e.render(ts, cp.cardTitle); err != nil {
			return card, err
		}
	}
	if cp.cardText != nil {
		if card.Text, err = e.render(ts, cp.cardText); err != nil {
			return card, err
		}
	}
	return card, nil
}

func (e *Engine) render(ts *turnState, tpl *compiler.Template) (string, error) {
	return e.templates.RenderText(tpl, scopeEnv{scopes: ts.scopes}, nil)
}
