package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventTurnStart      EventType = "turn_start"
	EventTurnEnd        EventType = "turn_end"
	EventRuleFired      EventType = "rule_fired"
	EventPromptBegin    EventType = "prompt_begin"
	EventPromptOutcome  EventType = "prompt_outcome"
	EventRecognizerFail EventType = "recognizer_fail"
)

// PromptOutcome is the state a prompt reached after handling a turn.
// Retrying is the only non-terminal outcome.
type PromptOutcome string

const (
	PromptSatisfied PromptOutcome = "satisfied"
	PromptRetrying  PromptOutcome = "retrying"
	PromptTimedOut  PromptOutcome = "timed_out"
	PromptCancelled PromptOutcome = "cancelled"
	PromptSignedOut PromptOutcome = "signed_out"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp      time.Time `json:"timestamp"`
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	TurnID         string    `json:"turn_id,omitempty"`
}

// TurnInfo reports the start or the end of a turn.
type TurnInfo struct {
	EventBase
	TurnType TurnType      `json:"turn_type"`
	Intent   string        `json:"intent,omitempty"`
	Rule     string        `json:"rule,omitempty"`
	Sent     int           `json:"sent,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Err      error         `json:"-"`
}

// PromptEvent reports a prompt transition.
type PromptEvent struct {
	EventBase
	PromptID string        `json:"prompt_id"`
	Kind     PromptKind    `json:"kind"`
	Attempt  int           `json:"attempt"`
	Outcome  PromptOutcome `json:"outcome,omitempty"`
}

// RecognizerEvent reports a recognizer failure that degraded to the unknown intent.
type RecognizerEvent struct {
	EventBase
	Err error `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
// Any hook may be nil.
type LifecycleHooks struct {
	OnTurnStart      func(context.Context, *TurnInfo)
	OnTurnEnd        func(context.Context, *TurnInfo)
	OnRuleFired      func(context.Context, *TurnInfo)
	OnPromptBegin    func(context.Context, *PromptEvent)
	OnPromptOutcome  func(context.Context, *PromptEvent)
	OnRecognizerFail func(context.Context, *RecognizerEvent)
}
