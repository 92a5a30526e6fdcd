package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseConfirm(t *testing.T) {
	tests := []struct {
		text   string
		locale string
		value  bool
		ok     bool
	}{
		{"yes", "en-US", true, true},
		{"  Yes! ", "", true, true},
		{"NOPE", "en", false, true},
		{"sí", "es-MX", true, true},
		{"SI", "es", true, true},
		{"non", "fr-FR", false, true},
		{"Ja", "de", true, true},
		{"nee", "nl", false, true},
		{"não", "pt-BR", false, true},
		{"yes", "de", true, true},
		{"oui", "ja-JP", false, false},
		{"yes", "ja-JP", true, true},
		{"maybe", "en", false, false},
		{"", "en", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.text+"/"+tt.locale, func(t *testing.T) {
			value, ok := parseConfirm(tt.text, tt.locale)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.value, value)
			}
		})
	}
}
