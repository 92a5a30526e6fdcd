package domain

import (
	"time"
)

// TriggerKind defines what category of event a rule matches.
type TriggerKind string

const (
	// TriggerIntent matches a message whose recognized intent equals TriggerRule.Intent.
	TriggerIntent TriggerKind = "intent"
	// TriggerUnknownIntent matches any message no intent rule claimed.
	TriggerUnknownIntent TriggerKind = "unknownIntent"
	// TriggerConversationStarted matches conversation updates that add a human member.
	TriggerConversationStarted TriggerKind = "conversationStarted"
)

// IntentUnknown is the synthetic intent used when recognition fails or finds nothing.
const IntentUnknown = "unknown"

// TriggerRule pairs a matcher with an ordered action list.
// Lower Priority values win among equally specific rules; ties fall back to declaration order.
type TriggerRule struct {
	Kind     TriggerKind `json:"kind"`
	Intent   string      `json:"intent,omitempty"`
	Priority int         `json:"priority,omitempty"`
	Actions  []Action    `json:"actions"`
}

// Name returns a human readable label for logs and metrics.
func (r TriggerRule) Name() string {
	if r.Kind == TriggerIntent {
		return "intent:" + r.Intent
	}
	return string(r.Kind)
}

// PromptKind selects the validator of a prompt.
type PromptKind string

const (
	PromptText    PromptKind = "text"
	PromptConfirm PromptKind = "confirm"
	PromptOAuth   PromptKind = "oauth"
)

// PromptSpec is the static configuration of a prompt, referenced by InvokePrompt actions.
type PromptSpec struct {
	ID       string     `json:"id" mapstructure:"id"`
	Kind     PromptKind `json:"kind" mapstructure:"kind"`
	Property string     `json:"property" mapstructure:"property"`

	// Prompt is the template text sent when the prompt begins.
	Prompt string `json:"prompt,omitempty" mapstructure:"prompt"`
	// Reprompt is sent after an invalid input (falls back to Prompt).
	Reprompt string `json:"reprompt,omitempty" mapstructure:"reprompt"`
	// Failed is sent when the prompt ends without a value (optional).
	Failed string `json:"failed,omitempty" mapstructure:"failed"`

	MaxAttempts int           `json:"max_attempts,omitempty" mapstructure:"max_attempts"`
	Timeout     time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`

	// OAuth only.
	ConnectionName string `json:"connection_name,omitempty" mapstructure:"connection_name"`
	Title          string `json:"title,omitempty" mapstructure:"title"`
	Text           string `json:"text,omitempty" mapstructure:"text"`
}

// Dialog is a compiled-once set of rules and prompts.
type Dialog struct {
	ID       string                `json:"id"`
	Triggers []TriggerRule         `json:"triggers"`
	Prompts  map[string]PromptSpec `json:"prompts,omitempty"`
}

// Template is a named, parameterised text.
type Template struct {
	Name   string   `json:"name" yaml:"name" mapstructure:"name"`
	Params []string `json:"params,omitempty" yaml:"params,omitempty" mapstructure:"params"`
	Text   string   `json:"text" yaml:"text" mapstructure:"text"`
}

// RecognizerResult is the classification of one utterance.
type RecognizerResult struct {
	Intent     string         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Entities   map[string]any `json:"entities,omitempty"`
}

// TokenRecord is an ephemeral credential obtained from an auth connection.
// It is only ever stored in turn scope.
type TokenRecord struct {
	ConnectionName string    `json:"connectionName"`
	Token          string    `json:"token"`
	Expiration     time.Time `json:"expiration,omitempty"`
}

// AsMap exposes the record to expressions (turn.oauth.token).
func (t TokenRecord) AsMap() map[string]any {
	m := map[string]any{
		"connectionName": t.ConnectionName,
		"token":          t.Token,
	}
	if !t.Expiration.IsZero() {
		m["expiration"] = t.Expiration.UTC().Format(time.RFC3339)
	}
	return m
}

// SignInAffordance is what an auth connection returns to start a sign-in.
type SignInAffordance struct {
	URL   string
	State string
}
