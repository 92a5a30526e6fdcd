package yamlfile

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sort"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// ParseDialog decodes a dialog definition.
//
//	id: root
//	prompts:
//	  login:
//	    kind: oauth
//	    property: turn.oauth
//	    connection_name: graph
//	    timeout: 15s
//	triggers:
//	  - kind: unknownIntent
//	    actions:
//	      - prompt: login
//	      - if:
//	          condition: turn.oauth.token
//	          then:
//	            - send: { template: SigninSuccess }
//	          else:
//	            - send: Sign in failed.
//
// Each action is a mapping with exactly one key naming its kind
// (send, if, foreach, prompt, call, set, complete).
func ParseDialog(data []byte) (domain.Dialog, error) {
	var raw struct {
		ID       string           `yaml:"id"`
		Prompts  map[string]any   `yaml:"prompts"`
		Triggers []map[string]any `yaml:"triggers"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return domain.Dialog{}, fmt.Errorf("failed to parse dialog: %w", err)
	}
	if raw.ID == "" {
		return domain.Dialog{}, fmt.Errorf("dialog has no id")
	}

	d := domain.Dialog{ID: raw.ID, Prompts: make(map[string]domain.PromptSpec, len(raw.Prompts))}
	for id, v := range raw.Prompts {
		var spec domain.PromptSpec
		if err := decode(v, &spec); err != nil {
			return domain.Dialog{}, fmt.Errorf("prompt %s: %w", id, err)
		}
		if spec.ID == "" {
			spec.ID = id
		}
		d.Prompts[id] = spec
	}

	for i, t := range raw.Triggers {
		rule := domain.TriggerRule{}
		rule.Kind = domain.TriggerKind(stringField(t, "kind"))
		rule.Intent = stringField(t, "intent")
		if p, ok := t["priority"]; ok {
			if err := mapstructure.WeakDecode(p, &rule.Priority); err != nil {
				return domain.Dialog{}, fmt.Errorf("trigger %d: priority: %w", i, err)
			}
		}
		actions, err := parseActions(t["actions"])
		if err != nil {
			return domain.Dialog{}, fmt.Errorf("trigger %d (%s): %w", i, rule.Name(), err)
		}
		rule.Actions = actions
		d.Triggers = append(d.Triggers, rule)
	}
	return d, nil
}

func parseActions(v any) ([]domain.Action, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("actions must be a list, got %T", v)
	}
	out := make([]domain.Action, 0, len(list))
	for i, item := range list {
		a, err := parseAction(item)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func parseAction(item any) (domain.Action, error) {
	if s, ok := item.(string); ok && s == string(domain.KindComplete) {
		return domain.Complete{}, nil
	}
	m, ok := item.(map[string]any)
	if !ok || len(m) != 1 {
		return nil, fmt.Errorf("expected a mapping with a single action key")
	}
	var kind string
	var body any
	for k, v := range m {
		kind, body = k, v
	}

	switch domain.ActionKind(kind) {
	case domain.KindSendMessage:
		if text, ok := body.(string); ok {
			return domain.SendMessage{Text: text}, nil
		}
		var a domain.SendMessage
		return a, decode(body, &a)
	case domain.KindInvokePrompt:
		if id, ok := body.(string); ok {
			return domain.InvokePrompt{PromptID: id}, nil
		}
		var a domain.InvokePrompt
		return a, decode(body, &a)
	case domain.KindRunCallback:
		if name, ok := body.(string); ok {
			return domain.RunCallback{Name: name}, nil
		}
		var a domain.RunCallback
		return a, decode(body, &a)
	case domain.KindSetProperty:
		var a domain.SetProperty
		return a, decode(body, &a)
	case domain.KindComplete:
		return domain.Complete{}, nil
	case domain.KindIf:
		m, ok := body.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("if: expected a mapping")
		}
		then, err := parseActions(m["then"])
		if err != nil {
			return nil, fmt.Errorf("then: %w", err)
		}
		els, err := parseActions(m["else"])
		if err != nil {
			return nil, fmt.Errorf("else: %w", err)
		}
		return domain.If{Condition: stringField(m, "condition"), Then: then, Else: els}, nil
	case domain.KindForEach:
		m, ok := body.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("foreach: expected a mapping")
		}
		actions, err := parseActions(m["actions"])
		if err != nil {
			return nil, fmt.Errorf("foreach: %w", err)
		}
		return domain.ForEach{Items: stringField(m, "items"), Filter: stringField(m, "filter"), Actions: actions}, nil
	}
	return nil, fmt.Errorf("unknown action %q", kind)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func decode(input, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(millisecondsHook, mapstructure.StringToTimeDurationHookFunc()),
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// millisecondsHook reads bare numbers as milliseconds when the target is a duration.
func millisecondsHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case float64:
		return time.Duration(v * float64(time.Millisecond)), nil
	}
	return data, nil
}

// MarshalDialog encodes d in the format ParseDialog reads.
func MarshalDialog(d domain.Dialog) ([]byte, error) {
	prompts := make(map[string]any, len(d.Prompts))
	for id, p := range d.Prompts {
		m := map[string]any{"kind": string(p.Kind), "property": p.Property}
		put := func(k, v string) {
			if v != "" {
				m[k] = v
			}
		}
		put("prompt", p.Prompt)
		put("reprompt", p.Reprompt)
		put("failed", p.Failed)
		put("connection_name", p.ConnectionName)
		put("title", p.Title)
		put("text", p.Text)
		if p.MaxAttempts > 0 {
			m["max_attempts"] = p.MaxAttempts
		}
		if p.Timeout > 0 {
			m["timeout"] = p.Timeout.String()
		}
		prompts[id] = m
	}

	triggers := make([]any, 0, len(d.Triggers))
	for _, t := range d.Triggers {
		m := map[string]any{"kind": string(t.Kind), "actions": encodeActions(t.Actions)}
		if t.Intent != "" {
			m["intent"] = t.Intent
		}
		if t.Priority != 0 {
			m["priority"] = t.Priority
		}
		triggers = append(triggers, m)
	}

	doc := map[string]any{"id": d.ID, "triggers": triggers}
	if len(prompts) > 0 {
		doc["prompts"] = prompts
	}
	return yaml.Marshal(doc)
}

func encodeActions(actions []domain.Action) []any {
	out := make([]any, 0, len(actions))
	for _, a := range actions {
		var body any
		switch v := a.(type) {
		case domain.SendMessage:
			if v.Template == "" && len(v.Args) == 0 {
				body = v.Text
			} else {
				m := map[string]any{}
				if v.Template != "" {
					m["template"] = v.Template
				}
				if v.Text != "" {
					m["text"] = v.Text
				}
				if len(v.Args) > 0 {
					m["args"] = v.Args
				}
				body = m
			}
		case domain.If:
			m := map[string]any{"condition": v.Condition}
			if len(v.Then) > 0 {
				m["then"] = encodeActions(v.Then)
			}
			if len(v.Else) > 0 {
				m["else"] = encodeActions(v.Else)
			}
			body = m
		case domain.ForEach:
			m := map[string]any{"items": v.Items, "actions": encodeActions(v.Actions)}
			if v.Filter != "" {
				m["filter"] = v.Filter
			}
			body = m
		case domain.InvokePrompt:
			body = v.PromptID
		case domain.RunCallback:
			body = v.Name
		case domain.SetProperty:
			body = map[string]any{"property": v.Property, "value": v.Value}
		case domain.Complete:
			body = map[string]any{}
		}
		out = append(out, map[string]any{string(a.Kind()): body})
	}
	return out
}

// Dialog implements ports.DialogSource over a YAML file.
type Dialog struct {
	path string
}

// NewDialog creates a source reading path.
func NewDialog(path string) *Dialog {
	return &Dialog{path: path}
}

// Dialog reads and parses the file.
func (s *Dialog) Dialog(ctx context.Context) (domain.Dialog, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return domain.Dialog{}, fmt.Errorf("failed to read dialog: %w", err)
	}
	return ParseDialog(data)
}

// PromptIDs returns the prompt ids of d, sorted.
func PromptIDs(d domain.Dialog) []string {
	ids := make([]string, 0, len(d.Prompts))
	for id := range d.Prompts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
