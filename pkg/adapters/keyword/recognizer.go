// Package keyword implements an offline intent recognizer.
//
// Rules are tried in order; the first whose phrase occurs in the utterance (as whole
// words, ignoring case) or whose pattern matches wins with confidence 1.
package keyword

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/aretw0/parley/pkg/domain"
	"golang.org/x/text/cases"
)

// Rule maps phrases or a pattern to an intent.
type Rule struct {
	Intent   string
	Phrases  []string
	Patterns []*regexp.Regexp
}

// Recognizer implements ports.Recognizer over a fixed rule list.
type Recognizer struct {
	rules []compiledRule
}

type compiledRule struct {
	intent   string
	phrases  [][]string
	patterns []*regexp.Regexp
}

// New builds a recognizer from rules, in priority order.
func New(rules ...Rule) *Recognizer {
	r := &Recognizer{}
	for _, rule := range rules {
		cr := compiledRule{intent: rule.Intent, patterns: rule.Patterns}
		for _, p := range rule.Phrases {
			if words := r.words(p); len(words) > 0 {
				cr.phrases = append(cr.phrases, words)
			}
		}
		r.rules = append(r.rules, cr)
	}
	return r
}

// FromMap builds a recognizer from intent -> phrases. A phrase wrapped in slashes
// ("/^sign ?out$/") is a case-insensitive regular expression. Intents are tried in
// name order so the result does not depend on map iteration.
func FromMap(m map[string][]string) (*Recognizer, error) {
	intents := make([]string, 0, len(m))
	for intent := range m {
		intents = append(intents, intent)
	}
	sort.Strings(intents)

	rules := make([]Rule, 0, len(intents))
	for _, intent := range intents {
		rule := Rule{Intent: intent}
		for _, phrase := range m[intent] {
			if len(phrase) > 2 && strings.HasPrefix(phrase, "/") && strings.HasSuffix(phrase, "/") {
				re, err := regexp.Compile("(?i)" + phrase[1:len(phrase)-1])
				if err != nil {
					return nil, fmt.Errorf("intent %s: %w", intent, err)
				}
				rule.Patterns = append(rule.Patterns, re)
				continue
			}
			rule.Phrases = append(rule.Phrases, phrase)
		}
		rules = append(rules, rule)
	}
	return New(rules...), nil
}

// Recognize returns the intent of the first matching rule, or the unknown intent.
func (r *Recognizer) Recognize(ctx context.Context, utterance, locale string) (domain.RecognizerResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.RecognizerResult{}, err
	}
	words := r.words(utterance)
	for _, rule := range r.rules {
		for _, phrase := range rule.phrases {
			if containsRun(words, phrase) {
				return domain.RecognizerResult{Intent: rule.intent, Confidence: 1}, nil
			}
		}
		for _, re := range rule.patterns {
			if re.MatchString(strings.TrimSpace(utterance)) {
				return domain.RecognizerResult{Intent: rule.intent, Confidence: 1}, nil
			}
		}
	}
	return domain.RecognizerResult{Intent: domain.IntentUnknown}, nil
}

func (r *Recognizer) words(s string) []string {
	// A Caser keeps state, so each call folds with its own.
	return strings.FieldsFunc(cases.Fold().String(s), func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsNumber(c)
	})
}

// containsRun reports whether phrase occurs in words as a contiguous run.
func containsRun(words, phrase []string) bool {
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j, w := range phrase {
			if words[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
