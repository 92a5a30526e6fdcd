package runtime

import (
	"sort"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
)

// Selector picks the rule that fires for a turn.
// Its order is fixed at construction, so the same turn and intent always select the same rule.
type Selector struct {
	ordered []domain.TriggerRule
	indexes []int
}

// NewSelector orders rules by priority (lower first), keeping declaration order on ties.
func NewSelector(rules []domain.TriggerRule) *Selector {
	idx := make([]int, len(rules))
	for i := range rules {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return rules[idx[a]].Priority < rules[idx[b]].Priority
	})
	ordered := make([]domain.TriggerRule, len(idx))
	for i, j := range idx {
		ordered[i] = rules[j]
	}
	return &Selector{ordered: ordered, indexes: idx}
}

// Select returns the declaration index of the winning rule.
//
// Messages try exact intent rules first and fall back to the unknown-intent rule.
// Conversation updates fire conversation-started rules only when a member other than
// the bot joined. Other turns never fire rules.
func (s *Selector) Select(turn domain.ConversationTurn, intent string) (int, bool) {
	switch turn.Type {
	case domain.TurnMessage:
		if intent != "" && intent != domain.IntentUnknown {
			if i, ok := s.first(func(r domain.TriggerRule) bool {
				return r.Kind == domain.TriggerIntent && strings.EqualFold(r.Intent, intent)
			}); ok {
				return i, true
			}
		}
		return s.first(func(r domain.TriggerRule) bool { return r.Kind == domain.TriggerUnknownIntent })
	case domain.TurnConversationUpdate:
		if len(turn.HumanMembersAdded()) == 0 {
			return 0, false
		}
		return s.first(func(r domain.TriggerRule) bool { return r.Kind == domain.TriggerConversationStarted })
	}
	return 0, false
}

func (s *Selector) first(match func(domain.TriggerRule) bool) (int, bool) {
	for i, r := range s.ordered {
		if match(r) {
			return s.indexes[i], true
		}
	}
	return 0, false
}

// normalizeIntent maps the recognizer's "no intent" spellings to domain.IntentUnknown.
func normalizeIntent(intent string) string {
	intent = strings.TrimSpace(intent)
	if intent == "" || strings.EqualFold(intent, "None") || strings.EqualFold(intent, domain.IntentUnknown) {
		return domain.IntentUnknown
	}
	return intent
}
