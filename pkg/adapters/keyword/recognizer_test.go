package keyword_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/aretw0/parley/pkg/adapters/keyword"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecognizer(t *testing.T) {
	r := keyword.New(
		keyword.Rule{Intent: "Logout", Phrases: []string{"logout", "log out", "sign out"}},
		keyword.Rule{Intent: "Help", Patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)^\s*help\b`)}},
	)

	tests := []struct {
		utterance string
		intent    string
	}{
		{"logout", "Logout"},
		{"Please LOG OUT now!", "Logout"},
		{"sign-out", "Logout"},
		{"catalogout", domain.IntentUnknown},
		{"out log", domain.IntentUnknown},
		{"help me", "Help"},
		{"I need help", domain.IntentUnknown},
		{"", domain.IntentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			res, err := r.Recognize(context.Background(), tt.utterance, "en-US")
			require.NoError(t, err)
			assert.Equal(t, tt.intent, res.Intent)
			if tt.intent == domain.IntentUnknown {
				assert.Zero(t, res.Confidence)
			} else {
				assert.Equal(t, 1.0, res.Confidence)
			}
		})
	}
}

func TestRecognizer_FirstRuleWins(t *testing.T) {
	r := keyword.New(
		keyword.Rule{Intent: "A", Phrases: []string{"token"}},
		keyword.Rule{Intent: "B", Phrases: []string{"show token"}},
	)
	res, err := r.Recognize(context.Background(), "show token", "")
	require.NoError(t, err)
	assert.Equal(t, "A", res.Intent)
}

func TestFromMap(t *testing.T) {
	r, err := keyword.FromMap(map[string][]string{
		"Logout": {"logout", "/^sign ?out$/"},
	})
	require.NoError(t, err)

	res, err := r.Recognize(context.Background(), "SIGNOUT", "")
	require.NoError(t, err)
	assert.Equal(t, "Logout", res.Intent)

	_, err = keyword.FromMap(map[string][]string{"Bad": {"/(/"}})
	assert.Error(t, err)
}

func TestRecognizer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := keyword.New().Recognize(ctx, "logout", "")
	assert.ErrorIs(t, err, context.Canceled)
}
