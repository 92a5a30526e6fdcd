package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aretw0/parley/internal/presentation/graph"
	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/domain"
)

// SessionInfo is the persisted state of one record, as shown by `session inspect`.
type SessionInfo struct {
	Key     string                  `json:"key"`
	Ref     *domain.ConversationRef `json:"ref,omitempty"`
	Pending *runtime.PromptStatus   `json:"pending_prompt,omitempty"`
	Record  domain.Record           `json:"record"`
}

// ListSessions returns the stored record keys, sorted.
func ListSessions(ctx context.Context, rt *Runtime) ([]string, error) {
	keys, err := rt.Engine.Sessions().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// InspectSession loads one record. Conversation records also report their pending prompt.
func InspectSession(ctx context.Context, rt *Runtime, key string) (SessionInfo, error) {
	rec, err := rt.Engine.Sessions().Load(ctx, key)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("load session %q: %w", key, err)
	}
	info := SessionInfo{Key: key, Record: rec}
	if ref, ok := domain.ParseConversationKey(key); ok {
		info.Ref = &ref
		if info.Pending, err = rt.Engine.Liveness(ctx, ref); err != nil {
			return SessionInfo{}, err
		}
	}
	return info, nil
}

// RemoveSessions deletes the given records, or every record when all is set.
// It keeps going after a failure and returns the keys it removed.
func RemoveSessions(ctx context.Context, rt *Runtime, keys []string, all bool) ([]string, error) {
	if all {
		var err error
		if keys, err = ListSessions(ctx, rt); err != nil {
			return nil, err
		}
	}
	var (
		removed []string
		errs    []error
	)
	for _, key := range keys {
		if err := rt.Engine.Sessions().Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %q: %w", key, err))
			continue
		}
		removed = append(removed, key)
	}
	return removed, errors.Join(errs...)
}

// SessionOverlay marks the rules and prompt a conversation is suspended in.
func SessionOverlay(ctx context.Context, rt *Runtime, key string) (*graph.GraphOverlay, error) {
	ref, ok := domain.ParseConversationKey(key)
	if !ok {
		return nil, fmt.Errorf("%q is not a conversation key (conversation/<channel>/<id>)", key)
	}
	stack, err := rt.Engine.Stack(ctx, ref)
	if err != nil {
		return nil, err
	}
	triggers := rt.Engine.Dialog().Triggers
	overlay := &graph.GraphOverlay{}
	for _, f := range stack {
		if f.Kind == domain.FrameRule && f.RuleIndex >= 0 && f.RuleIndex < len(triggers) {
			overlay.Rules = append(overlay.Rules, triggers[f.RuleIndex].Name())
		}
	}
	if ps := stack.PendingPrompt(); ps != nil {
		overlay.ActivePrompt = ps.PromptID
	}
	return overlay, nil
}
