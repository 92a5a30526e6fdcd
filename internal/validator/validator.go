// Package validator lints dialog definitions for mistakes the engine accepts but that
// leave parts of the dialog dead.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
)

// Severity grades an issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding.
type Issue struct {
	Severity Severity
	Where    string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Where, i.Message)
}

// ValidateDialog crawls every rule and reports:
//   - rules that can never fire because an earlier rule wins the same event (error)
//   - rules without actions (warning)
//   - prompts no rule invokes (warning)
//   - a dialog with no unknown-intent rule, which leaves most messages unanswered (warning)
func ValidateDialog(d domain.Dialog) []Issue {
	var issues []Issue

	// Selection order: priority ascending, declaration order on ties.
	order := make([]int, len(d.Triggers))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return d.Triggers[order[a]].Priority < d.Triggers[order[b]].Priority
	})

	winners := make(map[string]int)
	hasUnknown := false
	for _, i := range order {
		rule := d.Triggers[i]
		where := fmt.Sprintf("trigger %d (%s)", i, rule.Name())
		event := string(rule.Kind)
		switch rule.Kind {
		case domain.TriggerIntent:
			event = "intent:" + strings.ToLower(rule.Intent)
		case domain.TriggerUnknownIntent:
			hasUnknown = true
		}
		if first, ok := winners[event]; ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Where:    where,
				Message:  fmt.Sprintf("never fires: trigger %d handles the same event first", first),
			})
		} else {
			winners[event] = i
		}
		if len(rule.Actions) == 0 {
			issues = append(issues, Issue{Severity: SeverityWarning, Where: where, Message: "rule has no actions"})
		}
	}
	if !hasUnknown {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Where:    "dialog " + d.ID,
			Message:  "no unknownIntent rule: messages without a recognised intent get no reply",
		})
	}

	invoked := make(map[string]bool)
	for _, rule := range d.Triggers {
		crawl(rule.Actions, invoked)
	}
	ids := make([]string, 0, len(d.Prompts))
	for id := range d.Prompts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !invoked[id] {
			issues = append(issues, Issue{Severity: SeverityWarning, Where: "prompt " + id, Message: "unreachable: no rule invokes it"})
		}
	}

	sort.SliceStable(issues, func(a, b int) bool {
		return issues[a].Severity == SeverityError && issues[b].Severity != SeverityError
	})
	return issues
}

func crawl(actions []domain.Action, invoked map[string]bool) {
	for _, a := range actions {
		switch a := a.(type) {
		case domain.InvokePrompt:
			invoked[a.PromptID] = true
		case domain.If:
			crawl(a.Then, invoked)
			crawl(a.Else, invoked)
		case domain.ForEach:
			crawl(a.Actions, invoked)
		}
	}
}

// Err summarises the error-level issues, or returns nil when there are none.
func Err(issues []Issue) error {
	var msgs []string
	for _, i := range issues {
		if i.Severity == SeverityError {
			msgs = append(msgs, i.Where+": "+i.Message)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("found %d errors:\n- %s", len(msgs), strings.Join(msgs, "\n- "))
}
