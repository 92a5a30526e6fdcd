package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
)

// GraphOverlay contains conversation state to highlight on the graph.
type GraphOverlay struct {
	// ActivePrompt is the id of the prompt the conversation is waiting on.
	ActivePrompt string
	// Rules lists the rule names ("intent:Logout", "conversationStarted") on the stack.
	Rules []string
}

// GenerateMermaid produces a Mermaid flowchart of a dialog. Each trigger rule becomes a
// chain of its actions, using semantic shapes:
// - Dialog: ((Circle))
// - Rule: {{Hexagon}}
// - Prompt: [/Parallelogram/]
// - Callback, ForEach: [[Subroutine]]
// - If: {Diamond} with then/else edges
// - Complete: ([Stadium])
// - Default: [Rectangle]
func GenerateMermaid(d domain.Dialog, overlay *GraphOverlay) string {
	g := &builder{}
	g.line("graph TD")

	root := g.node("((", "))", d.ID)
	ruleIDs := make(map[string]string, len(d.Triggers))
	for _, rule := range d.Triggers {
		label := rule.Name()
		if rule.Priority != 0 {
			label = fmt.Sprintf("%s <br/> priority %d", label, rule.Priority)
		}
		id := g.node("{{", "}}", label)
		ruleIDs[rule.Name()] = id
		g.edge(root, id, "")
		g.actions(id, "", rule.Actions, d.Prompts)
	}

	if overlay != nil {
		g.line("")
		g.line("    %% Overlay Styles")
		g.line("    classDef active fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;")
		g.line("    classDef waiting fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;")
		for _, name := range overlay.Rules {
			if id, ok := ruleIDs[name]; ok {
				g.line(fmt.Sprintf("    class %s active;", id))
			}
		}
		for _, id := range g.prompts[overlay.ActivePrompt] {
			g.line(fmt.Sprintf("    class %s waiting;", id))
		}
	}
	return g.sb.String()
}

type builder struct {
	sb      strings.Builder
	next    int
	prompts map[string][]string
}

func (g *builder) line(s string) {
	g.sb.WriteString(s)
	g.sb.WriteByte('\n')
}

func (g *builder) node(opener, closer, label string) string {
	g.next++
	id := fmt.Sprintf("n%d", g.next)
	g.line(fmt.Sprintf("    %s%s\"%s\"%s", id, opener, escape(label), closer))
	return id
}

func (g *builder) edge(from, to, label string) {
	if label == "" {
		g.line(fmt.Sprintf("    %s --> %s", from, to))
		return
	}
	g.line(fmt.Sprintf("    %s -- \"%s\" --> %s", from, escape(label), to))
}

// actions chains list after prev; the first edge carries label. Returns the last node.
func (g *builder) actions(prev, label string, list []domain.Action, prompts map[string]domain.PromptSpec) string {
	for _, a := range list {
		id := g.action(a, prompts)
		g.edge(prev, id, label)
		label = ""
		prev = id
	}
	return prev
}

func (g *builder) action(a domain.Action, prompts map[string]domain.PromptSpec) string {
	switch a := a.(type) {
	case domain.SendMessage:
		if a.Template != "" {
			return g.node("[", "]", "send "+a.Template)
		}
		return g.node("[", "]", "send \""+a.Text+"\"")
	case domain.InvokePrompt:
		label := "prompt " + a.PromptID
		if spec, ok := prompts[a.PromptID]; ok {
			label = fmt.Sprintf("%s <br/> %s → %s", label, spec.Kind, spec.Property)
			if spec.Timeout > 0 {
				label = fmt.Sprintf("%s <br/> ⏱️ %s", label, spec.Timeout)
			}
		}
		id := g.node("[/", "/]", label)
		if g.prompts == nil {
			g.prompts = map[string][]string{}
		}
		g.prompts[a.PromptID] = append(g.prompts[a.PromptID], id)
		return id
	case domain.RunCallback:
		return g.node("[[", "]]", "call "+a.Name)
	case domain.SetProperty:
		return g.node("[", "]", fmt.Sprintf("set %s = %s", a.Property, a.Value))
	case domain.Complete:
		return g.node("([", "])", "complete")
	case domain.ForEach:
		label := "foreach " + a.Items
		if a.Filter != "" {
			label += " <br/> where " + a.Filter
		}
		id := g.node("[[", "]]", label)
		if last := g.actions(id, "each", a.Actions, prompts); last != id {
			g.line(fmt.Sprintf("    %s -.-> %s", last, id))
		}
		return id
	case domain.If:
		id := g.node("{", "}", a.Condition)
		g.actions(id, "then", a.Then, prompts)
		g.actions(id, "else", a.Else, prompts)
		return id
	}
	return g.node("[", "]", string(a.Kind()))
}

// escape keeps labels inside Mermaid's double-quoted strings.
func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}
