package domain

import "strings"

// Scope names one of the four state mappings visible to expressions.
type Scope string

const (
	ScopeTurn         Scope = "turn"
	ScopeDialog       Scope = "dialog"
	ScopeConversation Scope = "conversation"
	ScopeUser         Scope = "user"
)

// ReadOrder is the precedence used to resolve an unqualified read.
var ReadOrder = []Scope{ScopeTurn, ScopeDialog, ScopeConversation, ScopeUser}

// ParseScope returns the scope named by s.
func ParseScope(s string) (Scope, bool) {
	switch Scope(s) {
	case ScopeTurn, ScopeDialog, ScopeConversation, ScopeUser:
		return Scope(s), true
	}
	return "", false
}

// SplitProperty splits a scoped property path ("conversation.name", "$x") into scope and key.
// '$x' is shorthand for 'dialog.x'. ok is false when the path does not name a scope.
func SplitProperty(path string) (scope Scope, key string, ok bool) {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "$") {
		key = path[1:]
		return ScopeDialog, key, key != ""
	}
	head, rest, found := strings.Cut(path, ".")
	if !found || rest == "" {
		return "", "", false
	}
	scope, ok = ParseScope(head)
	if !ok {
		return "", "", false
	}
	return scope, rest, true
}

// IsReservedKey reports whether key (or its first segment) is engine bookkeeping.
func IsReservedKey(key string) bool {
	return strings.HasPrefix(key, "_")
}

// Record is the persisted form of a conversation or user scope.
// Keys with a leading underscore are owned by the engine.
type Record map[string]any

// Reserved record keys.
const (
	// KeyStack holds the serialized dialog stack of a conversation record.
	KeyStack = "_stack"
	// KeyUpdatedAt holds the last commit time (unix ms).
	KeyUpdatedAt = "_updated_at"
)

// Clone returns a shallow copy of r. Nested values are shared.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Public returns the entries visible to expressions (reserved keys removed).
func (r Record) Public() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		if IsReservedKey(k) {
			continue
		}
		out[k] = v
	}
	return out
}
