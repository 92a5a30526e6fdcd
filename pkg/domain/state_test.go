package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitProperty(t *testing.T) {
	tests := []struct {
		in        string
		wantScope Scope
		wantKey   string
		wantOK    bool
	}{
		{"turn.oauth", ScopeTurn, "oauth", true},
		{"conversation.profile.name", ScopeConversation, "profile.name", true},
		{"user.locale", ScopeUser, "locale", true},
		{"$foreach.value", ScopeDialog, "foreach.value", true},
		{"dialog.x", ScopeDialog, "x", true},
		{"name", "", "", false},
		{"session.x", "", "", false},
		{"turn.", "", "", false},
		{"$", ScopeDialog, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			scope, key, ok := SplitProperty(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantScope, scope)
				assert.Equal(t, tt.wantKey, key)
			}
		})
	}
}

func TestDialogStack(t *testing.T) {
	var s DialogStack
	assert.Nil(t, s.Top())
	assert.Nil(t, s.PendingPrompt())

	s.Push(DialogFrame{Kind: FrameRoot})
	s.Push(DialogFrame{Kind: FrameRule, RuleIndex: 2})
	s.Push(DialogFrame{Kind: FramePrompt, Prompt: &PromptState{PromptID: "confirm"}})

	assert.Equal(t, FrameRule, s.Parent().Kind)
	if assert.NotNil(t, s.PendingPrompt()) {
		assert.Equal(t, "confirm", s.PendingPrompt().PromptID)
	}

	f, ok := s.Pop()
	assert.True(t, ok)
	assert.Equal(t, FramePrompt, f.Kind)
	assert.Len(t, s, 2)
	assert.Nil(t, s.PendingPrompt())
}

func TestPromptState_Expired(t *testing.T) {
	assert.False(t, PromptState{}.Expired(1_000))
	assert.False(t, PromptState{Deadline: 2_000}.Expired(1_999))
	assert.True(t, PromptState{Deadline: 2_000}.Expired(2_000))
}

func TestConversationTurn_HumanMembersAdded(t *testing.T) {
	turn := ConversationTurn{
		Type:         TurnConversationUpdate,
		Recipient:    ChannelAccount{ID: "bot", Name: "Bot"},
		MembersAdded: []ChannelAccount{{ID: "bot", Name: "Bot"}, {ID: "u1", Name: "Ann"}},
	}
	assert.Equal(t, []ChannelAccount{{ID: "u1", Name: "Ann"}}, turn.HumanMembersAdded())
	assert.Equal(t, "conversation/default/", turn.ConversationKey())
}
