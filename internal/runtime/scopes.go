package runtime

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aretw0/parley/internal/compiler"
	"github.com/aretw0/parley/pkg/domain"
)

// Scopes holds the four state mappings of a turn.
// The dialog mapping is bound to the locals of the active rule frame.
type Scopes struct {
	turn         map[string]any
	dialog       map[string]any
	conversation map[string]any
	user         map[string]any
}

// NewScopes creates scopes over the given conversation and user values.
// Nil maps are replaced by empty ones.
func NewScopes(conversation, user map[string]any) *Scopes {
	if conversation == nil {
		conversation = make(map[string]any)
	}
	if user == nil {
		user = make(map[string]any)
	}
	return &Scopes{
		turn:         make(map[string]any),
		conversation: conversation,
		user:         user,
	}
}

// BindDialog makes locals the dialog scope. Passing nil unbinds it.
func (s *Scopes) BindDialog(locals map[string]any) {
	s.dialog = locals
}

func (s *Scopes) scope(sc domain.Scope) map[string]any {
	switch sc {
	case domain.ScopeTurn:
		return s.turn
	case domain.ScopeDialog:
		return s.dialog
	case domain.ScopeConversation:
		return s.conversation
	case domain.ScopeUser:
		return s.user
	}
	return nil
}

// Get reads a dotted key from one scope.
func (s *Scopes) Get(sc domain.Scope, key string) (any, bool) {
	return lookupPath(s.scope(sc), key)
}

// Resolve reads a property path. Scoped paths read one scope; anything else is tried
// against turn, dialog, conversation and user in that order.
func (s *Scopes) Resolve(path string) (any, bool) {
	if sc, key, ok := domain.SplitProperty(path); ok {
		return s.Get(sc, key)
	}
	for _, sc := range domain.ReadOrder {
		if v, ok := s.Get(sc, path); ok {
			return v, true
		}
	}
	return nil, false
}

// Lookup resolves a bare identifier for expressions: a scope name yields the whole scope.
func (s *Scopes) Lookup(name string) (any, bool) {
	if sc, ok := domain.ParseScope(name); ok {
		return s.scope(sc), true
	}
	return s.Resolve(name)
}

// Set writes value at a dotted key, creating intermediate maps.
func (s *Scopes) Set(sc domain.Scope, key string, value any) error {
	if key == "" {
		return fmt.Errorf("%w: empty key in %s scope", domain.ErrUnscopedProperty, sc)
	}
	if domain.IsReservedKey(key) {
		return fmt.Errorf("%w: %s.%s", domain.ErrReservedKey, sc, key)
	}
	m := s.scope(sc)
	if m == nil {
		if sc == domain.ScopeDialog {
			return fmt.Errorf("cannot write dialog.%s: no active dialog", key)
		}
		return fmt.Errorf("unknown scope %q", sc)
	}

	parts := strings.Split(key, ".")
	for _, p := range parts[:len(parts)-1] {
		next, exists := m[p]
		if !exists || next == nil {
			child := make(map[string]any)
			m[p] = child
			m = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot write %s.%s: %s is a %T", sc, key, p, next)
		}
		m = child
	}
	m[parts[len(parts)-1]] = value
	return nil
}

// SetProperty writes a scoped property path (turn.x, dialog.x, $x, conversation.x, user.x).
func (s *Scopes) SetProperty(path string, value any) error {
	sc, key, ok := domain.SplitProperty(path)
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnscopedProperty, path)
	}
	return s.Set(sc, key, value)
}

// Delete removes a dotted key from one scope. Missing keys are ignored.
func (s *Scopes) Delete(sc domain.Scope, key string) {
	m := s.scope(sc)
	parts := strings.Split(key, ".")
	for _, p := range parts[:len(parts)-1] {
		child, ok := m[p].(map[string]any)
		if !ok {
			return
		}
		m = child
	}
	delete(m, parts[len(parts)-1])
}

// Clear empties a scope.
func (s *Scopes) Clear(sc domain.Scope) {
	m := s.scope(sc)
	for k := range m {
		delete(m, k)
	}
}

// Snapshot returns the scope mapping itself (not a copy).
func (s *Scopes) Snapshot(sc domain.Scope) map[string]any {
	return s.scope(sc)
}

func lookupPath(m map[string]any, key string) (any, bool) {
	if m == nil || key == "" {
		return nil, false
	}
	parts := strings.Split(key, ".")
	v, ok := m[parts[0]]
	if !ok {
		return nil, false
	}
	for _, p := range parts[1:] {
		if i, err := strconv.Atoi(p); err == nil {
			v = compiler.Element(v, i)
		} else {
			v = compiler.Property(v, p)
		}
		if v == nil {
			return nil, false
		}
	}
	return v, true
}
