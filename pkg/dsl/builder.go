package dsl

import (
	"fmt"
	"time"

	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
)

// Builder manages the dialog construction.
type Builder struct {
	dialog domain.Dialog
	rules  []*RuleBuilder
	errs   []error
}

// New creates a new dialog builder.
func New(id string) *Builder {
	return &Builder{
		dialog: domain.Dialog{ID: id, Prompts: make(map[string]domain.PromptSpec)},
	}
}

// OnIntent adds a rule fired by messages recognized as intent.
func (b *Builder) OnIntent(intent string) *RuleBuilder {
	return b.rule(domain.TriggerRule{Kind: domain.TriggerIntent, Intent: intent})
}

// OnUnknownIntent adds the fallback rule of messages no intent rule claimed.
func (b *Builder) OnUnknownIntent() *RuleBuilder {
	return b.rule(domain.TriggerRule{Kind: domain.TriggerUnknownIntent})
}

// OnConversationStarted adds a rule fired when a human joins the conversation.
func (b *Builder) OnConversationStarted() *RuleBuilder {
	return b.rule(domain.TriggerRule{Kind: domain.TriggerConversationStarted})
}

func (b *Builder) rule(r domain.TriggerRule) *RuleBuilder {
	rb := &RuleBuilder{rule: r}
	b.rules = append(b.rules, rb)
	return rb
}

// TextPrompt registers a free-text prompt.
func (b *Builder) TextPrompt(id, property, prompt string) *PromptBuilder {
	return b.prompt(domain.PromptSpec{ID: id, Kind: domain.PromptText, Property: property, Prompt: prompt})
}

// ConfirmPrompt registers a yes/no prompt.
func (b *Builder) ConfirmPrompt(id, property, prompt string) *PromptBuilder {
	return b.prompt(domain.PromptSpec{ID: id, Kind: domain.PromptConfirm, Property: property, Prompt: prompt})
}

// OAuthPrompt registers a sign-in prompt for connection. property must be turn-scoped.
func (b *Builder) OAuthPrompt(id, property, connection string) *PromptBuilder {
	return b.prompt(domain.PromptSpec{ID: id, Kind: domain.PromptOAuth, Property: property, ConnectionName: connection})
}

func (b *Builder) prompt(spec domain.PromptSpec) *PromptBuilder {
	if _, dup := b.dialog.Prompts[spec.ID]; dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate prompt %q", spec.ID))
	}
	b.dialog.Prompts[spec.ID] = spec
	return &PromptBuilder{builder: b, id: spec.ID}
}

// Build returns the dialog. Prompt references are checked here; expressions and
// templates are checked when an engine compiles the dialog.
func (b *Builder) Build() (domain.Dialog, error) {
	if len(b.errs) > 0 {
		return domain.Dialog{}, b.errs[0]
	}
	d := b.dialog
	d.Triggers = make([]domain.TriggerRule, 0, len(b.rules))
	for _, rb := range b.rules {
		if err := checkPrompts(rb.rule.Actions, d.Prompts); err != nil {
			return domain.Dialog{}, fmt.Errorf("rule %s: %w", rb.rule.Name(), err)
		}
		d.Triggers = append(d.Triggers, rb.rule)
	}
	return d, nil
}

// Source builds the dialog and wraps it as a ports.DialogSource.
func (b *Builder) Source() (*memory.DialogSource, error) {
	d, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build dialog: %w", err)
	}
	return memory.NewDialogSource(d), nil
}

func checkPrompts(actions []domain.Action, prompts map[string]domain.PromptSpec) error {
	for _, a := range actions {
		var err error
		switch v := a.(type) {
		case domain.InvokePrompt:
			if _, ok := prompts[v.PromptID]; !ok {
				err = fmt.Errorf("%w: %s", domain.ErrUnknownPrompt, v.PromptID)
			}
		case domain.If:
			if err = checkPrompts(v.Then, prompts); err == nil {
				err = checkPrompts(v.Else, prompts)
			}
		case domain.ForEach:
			err = checkPrompts(v.Actions, prompts)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// PromptBuilder configures a registered prompt.
type PromptBuilder struct {
	builder *Builder
	id      string
}

func (p *PromptBuilder) update(fn func(*domain.PromptSpec)) *PromptBuilder {
	spec := p.builder.dialog.Prompts[p.id]
	fn(&spec)
	p.builder.dialog.Prompts[p.id] = spec
	return p
}

// Prompt sets the text sent when the prompt begins.
func (p *PromptBuilder) Prompt(text string) *PromptBuilder {
	return p.update(func(s *domain.PromptSpec) { s.Prompt = text })
}

// Reprompt sets the text sent after an invalid answer.
func (p *PromptBuilder) Reprompt(text string) *PromptBuilder {
	return p.update(func(s *domain.PromptSpec) { s.Reprompt = text })
}

// Failed sets the text sent when the prompt times out or runs out of attempts.
func (p *PromptBuilder) Failed(text string) *PromptBuilder {
	return p.update(func(s *domain.PromptSpec) { s.Failed = text })
}

// MaxAttempts bounds the number of answers accepted.
func (p *PromptBuilder) MaxAttempts(n int) *PromptBuilder {
	return p.update(func(s *domain.PromptSpec) { s.MaxAttempts = n })
}

// Timeout sets how long the prompt waits, measured from when it began.
func (p *PromptBuilder) Timeout(d time.Duration) *PromptBuilder {
	return p.update(func(s *domain.PromptSpec) { s.Timeout = d })
}

// Card sets the title and text of the sign-in card (oauth prompts).
func (p *PromptBuilder) Card(title, text string) *PromptBuilder {
	return p.update(func(s *domain.PromptSpec) { s.Title, s.Text = title, text })
}

// RuleBuilder provides a fluent API for a rule's action list.
type RuleBuilder struct {
	rule domain.TriggerRule
}

// Priority sets the rule priority. Lower values win.
func (r *RuleBuilder) Priority(p int) *RuleBuilder {
	r.rule.Priority = p
	return r
}

// Do appends arbitrary actions.
func (r *RuleBuilder) Do(actions ...domain.Action) *RuleBuilder {
	r.rule.Actions = append(r.rule.Actions, actions...)
	return r
}

// Send appends an inline text message.
func (r *RuleBuilder) Send(text string) *RuleBuilder { return r.Do(Send(text)) }

// Template appends a message rendered from a named template.
func (r *RuleBuilder) Template(name string, args map[string]any) *RuleBuilder {
	return r.Do(Template(name, args))
}

// Prompt appends an InvokePrompt.
func (r *RuleBuilder) Prompt(id string) *RuleBuilder { return r.Do(Prompt(id)) }

// Call appends a RunCallback.
func (r *RuleBuilder) Call(name string) *RuleBuilder { return r.Do(Call(name)) }

// Set appends a SetProperty.
func (r *RuleBuilder) Set(property, value string) *RuleBuilder { return r.Do(Set(property, value)) }

// If appends a conditional.
func (r *RuleBuilder) If(condition string, then, els []domain.Action) *RuleBuilder {
	return r.Do(If(condition, then, els))
}

// Complete appends a Complete action.
func (r *RuleBuilder) Complete() *RuleBuilder { return r.Do(domain.Complete{}) }

// Send builds an inline text message.
func Send(text string) domain.Action { return domain.SendMessage{Text: text} }

// Template builds a message rendered from a named template.
func Template(name string, args map[string]any) domain.Action {
	return domain.SendMessage{Template: name, Args: args}
}

// Prompt builds an InvokePrompt.
func Prompt(id string) domain.Action { return domain.InvokePrompt{PromptID: id} }

// Call builds a RunCallback.
func Call(name string) domain.Action { return domain.RunCallback{Name: name} }

// Set builds a SetProperty.
func Set(property, value string) domain.Action {
	return domain.SetProperty{Property: property, Value: value}
}

// If builds a conditional.
func If(condition string, then, els []domain.Action) domain.Action {
	return domain.If{Condition: condition, Then: then, Else: els}
}

// ForEach builds a loop over items. filter may be empty.
func ForEach(items, filter string, body ...domain.Action) domain.Action {
	return domain.ForEach{Items: items, Filter: filter, Actions: body}
}

// Actions groups actions for If branches.
func Actions(actions ...domain.Action) []domain.Action { return actions }
