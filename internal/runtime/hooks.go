package runtime

import (
	"context"
	"time"

	"github.com/aretw0/parley/pkg/domain"
)

func (e *Engine) emitTurnStart(ctx context.Context, turn domain.ConversationTurn, start time.Time) {
	if e.hooks.OnTurnStart == nil {
		return
	}
	e.hooks.OnTurnStart(ctx, &domain.TurnInfo{
		EventBase: domain.EventBase{
			Timestamp:      start,
			Type:           domain.EventTurnStart,
			ConversationID: turn.ConversationID,
			TurnID:         turn.ID,
		},
		TurnType: turn.Type,
	})
}

func (e *Engine) emitTurnEnd(ctx context.Context, turn domain.ConversationTurn, ts *turnState, start time.Time, err error) {
	if e.hooks.OnTurnEnd == nil {
		return
	}
	now := e.clock()
	ev := &domain.TurnInfo{
		EventBase: domain.EventBase{
			Timestamp:      now,
			Type:           domain.EventTurnEnd,
			ConversationID: turn.ConversationID,
			TurnID:         turn.ID,
		},
		TurnType: turn.Type,
		Duration: now.Sub(start),
		Err:      err,
	}
	if ts != nil {
		ev.Intent = ts.intent
		ev.Rule = ts.rule
		if err == nil {
			ev.Sent = len(ts.outbox)
		}
	}
	e.hooks.OnTurnEnd(ctx, ev)
}

func (e *Engine) emitRuleFired(ctx context.Context, ts *turnState) {
	if e.hooks.OnRuleFired == nil {
		return
	}
	e.hooks.OnRuleFired(ctx, &domain.TurnInfo{
		EventBase: domain.EventBase{
			Timestamp:      ts.now,
			Type:           domain.EventRuleFired,
			ConversationID: ts.turn.ConversationID,
			TurnID:         ts.turn.ID,
		},
		TurnType: ts.turn.Type,
		Intent:   ts.intent,
		Rule:     ts.rule,
	})
}

func (e *Engine) emitRecognizerFail(ctx context.Context, ts *turnState, err error) {
	if e.hooks.OnRecognizerFail == nil {
		return
	}
	e.hooks.OnRecognizerFail(ctx, &domain.RecognizerEvent{
		EventBase: domain.EventBase{
			Timestamp:      ts.now,
			Type:           domain.EventRecognizerFail,
			ConversationID: ts.turn.ConversationID,
			TurnID:         ts.turn.ID,
		},
		Err: err,
	})
}

func (e *Engine) emitPromptBegin(ctx context.Context, ts *turnState, cp *compiledPrompt) {
	if e.hooks.OnPromptBegin == nil {
		return
	}
	e.hooks.OnPromptBegin(ctx, &domain.PromptEvent{
		EventBase: domain.EventBase{
			Timestamp:      ts.now,
			Type:           domain.EventPromptBegin,
			ConversationID: ts.turn.ConversationID,
			TurnID:         ts.turn.ID,
		},
		PromptID: cp.spec.ID,
		Kind:     cp.spec.Kind,
	})
}

func (e *Engine) emitPromptOutcome(ctx context.Context, conversationID, turnID string, cp *compiledPrompt, attempt int, outcome domain.PromptOutcome) {
	if e.hooks.OnPromptOutcome == nil {
		return
	}
	e.hooks.OnPromptOutcome(ctx, &domain.PromptEvent{
		EventBase: domain.EventBase{
			Timestamp:      e.clock(),
			Type:           domain.EventPromptOutcome,
			ConversationID: conversationID,
			TurnID:         turnID,
		},
		PromptID: cp.spec.ID,
		Kind:     cp.spec.Kind,
		Attempt:  attempt,
		Outcome:  outcome,
	})
}
