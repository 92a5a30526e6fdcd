package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/parley/pkg/domain"
)

// LogHooks returns hooks that log every lifecycle event at debug level, and failures at warn.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTurnStart: func(ctx context.Context, e *domain.TurnInfo) {
			logger.DebugContext(ctx, "turn_start", "conversation_id", e.ConversationID, "turn_id", e.TurnID, "type", e.TurnType)
		},
		OnTurnEnd: func(ctx context.Context, e *domain.TurnInfo) {
			if e.Err != nil {
				logger.WarnContext(ctx, "turn_end", "conversation_id", e.ConversationID, "turn_id", e.TurnID,
					"duration", e.Duration, "err", e.Err)
				return
			}
			logger.DebugContext(ctx, "turn_end", "conversation_id", e.ConversationID, "turn_id", e.TurnID,
				"intent", e.Intent, "sent", e.Sent, "duration", e.Duration)
		},
		OnRuleFired: func(ctx context.Context, e *domain.TurnInfo) {
			logger.DebugContext(ctx, "rule_fired", "conversation_id", e.ConversationID, "rule", e.Rule, "intent", e.Intent)
		},
		OnPromptBegin: func(ctx context.Context, e *domain.PromptEvent) {
			logger.DebugContext(ctx, "prompt_begin", "conversation_id", e.ConversationID, "prompt_id", e.PromptID, "kind", e.Kind)
		},
		OnPromptOutcome: func(ctx context.Context, e *domain.PromptEvent) {
			logger.DebugContext(ctx, "prompt_outcome", "conversation_id", e.ConversationID, "prompt_id", e.PromptID,
				"attempt", e.Attempt, "outcome", e.Outcome)
		},
		OnRecognizerFail: func(ctx context.Context, e *domain.RecognizerEvent) {
			logger.WarnContext(ctx, "recognizer_fail", "conversation_id", e.ConversationID, "err", e.Err)
		},
	}
}

// Combine merges hook sets; each event is delivered to every set in order.
func Combine(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, h := range sets {
		out.OnTurnStart = chain(out.OnTurnStart, h.OnTurnStart)
		out.OnTurnEnd = chain(out.OnTurnEnd, h.OnTurnEnd)
		out.OnRuleFired = chain(out.OnRuleFired, h.OnRuleFired)
		out.OnPromptBegin = chain(out.OnPromptBegin, h.OnPromptBegin)
		out.OnPromptOutcome = chain(out.OnPromptOutcome, h.OnPromptOutcome)
		out.OnRecognizerFail = chain(out.OnRecognizerFail, h.OnRecognizerFail)
	}
	return out
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
