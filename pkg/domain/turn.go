package domain

import (
	"strings"
	"time"
)

// TurnType defines the category of an inbound activity.
type TurnType string

const (
	// TurnMessage is a user utterance.
	TurnMessage TurnType = "message"
	// TurnConversationUpdate carries membership changes (members added/removed).
	TurnConversationUpdate TurnType = "conversationUpdate"
	// TurnEvent carries out-of-band data such as a token delivered by the channel.
	TurnEvent TurnType = "event"
)

// Well-known event names.
const (
	// EventTokenResponse delivers a token for a pending sign-in.
	// Value: TokenResponse (or an equivalent map).
	EventTokenResponse = "tokens/response"
)

// ChannelAccount identifies a participant in a conversation.
type ChannelAccount struct {
	ID   string `json:"id" mapstructure:"id"`
	Name string `json:"name,omitempty" mapstructure:"name"`
}

// ConversationTurn is one inbound event plus the identifiers needed to route it.
// It is immutable once received.
type ConversationTurn struct {
	ID             string           `json:"id,omitempty" mapstructure:"id"`
	Type           TurnType         `json:"type" mapstructure:"type"`
	ChannelID      string           `json:"channelId,omitempty" mapstructure:"channelId"`
	ConversationID string           `json:"conversationId" mapstructure:"conversationId"`
	From           ChannelAccount   `json:"from" mapstructure:"from"`
	Recipient      ChannelAccount   `json:"recipient" mapstructure:"recipient"`
	Text           string           `json:"text,omitempty" mapstructure:"text"`
	Locale         string           `json:"locale,omitempty" mapstructure:"locale"`
	MembersAdded   []ChannelAccount `json:"membersAdded,omitempty" mapstructure:"membersAdded"`
	Name           string           `json:"name,omitempty" mapstructure:"name"`
	Value          any              `json:"value,omitempty" mapstructure:"value"`
	Timestamp      time.Time        `json:"timestamp,omitempty" mapstructure:"-"`
}

// Ref returns the routing identifiers of the turn.
func (t ConversationTurn) Ref() ConversationRef {
	return ConversationRef{ChannelID: t.ChannelID, ConversationID: t.ConversationID, UserID: t.From.ID}
}

// ConversationKey returns the storage id of the conversation record.
func (t ConversationTurn) ConversationKey() string { return t.Ref().ConversationKey() }

// UserKey returns the storage id of the user record.
func (t ConversationTurn) UserKey() string { return t.Ref().UserKey() }

// ConversationRef addresses a conversation (and the user in it) outside of a turn.
type ConversationRef struct {
	ChannelID      string `json:"channelId,omitempty"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
}

// ConversationKey returns the storage id of the conversation record.
func (r ConversationRef) ConversationKey() string {
	return "conversation/" + channelOrDefault(r.ChannelID) + "/" + r.ConversationID
}

// UserKey returns the storage id of the user record.
func (r ConversationRef) UserKey() string {
	return "user/" + channelOrDefault(r.ChannelID) + "/" + r.UserID
}

// ParseConversationKey is the inverse of ConversationKey.
func ParseConversationKey(key string) (ConversationRef, bool) {
	rest, ok := strings.CutPrefix(key, "conversation/")
	if !ok {
		return ConversationRef{}, false
	}
	channel, id, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return ConversationRef{}, false
	}
	return ConversationRef{ChannelID: channel, ConversationID: id}, true
}

// HumanMembersAdded returns the added members that are not the bot itself.
func (t ConversationTurn) HumanMembersAdded() []ChannelAccount {
	out := make([]ChannelAccount, 0, len(t.MembersAdded))
	for _, m := range t.MembersAdded {
		if m.ID != "" && m.ID == t.Recipient.ID {
			continue
		}
		out = append(out, m)
	}
	return out
}

// AsMap converts the turn into the structure exposed as 'turn.activity'.
func (t ConversationTurn) AsMap() map[string]any {
	members := make([]any, 0, len(t.MembersAdded))
	for _, m := range t.MembersAdded {
		members = append(members, map[string]any{"id": m.ID, "name": m.Name})
	}
	return map[string]any{
		"id":             t.ID,
		"type":           string(t.Type),
		"channelId":      t.ChannelID,
		"conversationId": t.ConversationID,
		"from":           map[string]any{"id": t.From.ID, "name": t.From.Name},
		"recipient":      map[string]any{"id": t.Recipient.ID, "name": t.Recipient.Name},
		"text":           t.Text,
		"locale":         t.Locale,
		"membersAdded":   members,
		"name":           t.Name,
		"value":          t.Value,
	}
}

func channelOrDefault(id string) string {
	if id == "" {
		return "default"
	}
	return id
}

// TokenResponse is the payload of an EventTokenResponse event.
type TokenResponse struct {
	ConnectionName string `json:"connectionName" mapstructure:"connectionName"`
	Token          string `json:"token" mapstructure:"token"`
}
