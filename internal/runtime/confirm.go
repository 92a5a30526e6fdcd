package runtime

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type choiceTable struct {
	yes []string
	no  []string
}

// confirmLocales lists the languages with a choice table; the first is the fallback.
var confirmLocales = []language.Tag{
	language.English,
	language.Spanish,
	language.French,
	language.German,
	language.Portuguese,
	language.Dutch,
	language.Italian,
}

var confirmMatcher = language.NewMatcher(confirmLocales)

var confirmChoices = map[language.Tag]choiceTable{
	language.English:    {yes: []string{"yes", "y", "yeah", "yep", "sure", "ok", "okay", "true"}, no: []string{"no", "n", "nope", "nah", "false"}},
	language.Spanish:    {yes: []string{"sí", "si", "s", "claro", "vale"}, no: []string{"no", "n"}},
	language.French:     {yes: []string{"oui", "o", "ouais", "d'accord"}, no: []string{"non", "n"}},
	language.German:     {yes: []string{"ja", "j", "jawohl", "klar"}, no: []string{"nein", "n"}},
	language.Portuguese: {yes: []string{"sim", "s", "claro"}, no: []string{"não", "nao", "n"}},
	language.Dutch:      {yes: []string{"ja", "j", "jazeker"}, no: []string{"nee", "n"}},
	language.Italian:    {yes: []string{"sì", "si", "s", "certo"}, no: []string{"no", "n"}},
}

// matchConfirmLocale returns the supported language closest to locale (English when none is).
func matchConfirmLocale(locale string) language.Tag {
	if locale == "" {
		return language.English
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	_, idx, conf := confirmMatcher.Match(tag)
	if conf == language.No {
		return language.English
	}
	return confirmLocales[idx]
}

// parseConfirm interprets free text as yes or no. ok is false when it is neither.
// The locale's table is tried first, then English.
func parseConfirm(text, locale string) (value bool, ok bool) {
	folded := cases.Fold().String(strings.Trim(strings.TrimSpace(text), ".!?¡¿ "))
	if folded == "" {
		return false, false
	}
	tag := matchConfirmLocale(locale)
	tables := []choiceTable{confirmChoices[tag]}
	if tag != language.English {
		tables = append(tables, confirmChoices[language.English])
	}
	for _, table := range tables {
		if containsFolded(table.yes, folded) {
			return true, true
		}
		if containsFolded(table.no, folded) {
			return false, true
		}
	}
	return false, false
}

func containsFolded(choices []string, folded string) bool {
	for _, c := range choices {
		if cases.Fold().String(c) == folded {
			return true
		}
	}
	return false
}
