package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// Mask replaces values whose key matches a PII pattern.
const Mask = "***"

type piiMiddleware struct {
	next     ports.StateStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks, before they are persisted, the values
// of keys matching any pattern. Nested maps are masked too. Engine keys (leading
// underscore) are never masked at the top level, so the dialog stack stays decodable.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PII pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.StateStore) ports.StateStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Commit(ctx context.Context, diffs ...domain.StateDiff) error {
	masked := make([]domain.StateDiff, len(diffs))
	for i, d := range diffs {
		// Copy so the engine's in-memory view keeps the real values for this turn.
		out := domain.StateDiff{ID: d.ID, Deleted: d.Deleted, Set: deepCopyMap(d.Set)}
		for k, v := range out.Set {
			if domain.IsReservedKey(k) {
				continue
			}
			if m.matches(k) {
				out.Set[k] = Mask
				continue
			}
			if sub, ok := v.(map[string]any); ok {
				m.maskMap(sub)
			}
		}
		masked[i] = out
	}
	return m.next.Commit(ctx, masked...)
}

func (m *piiMiddleware) Load(ctx context.Context, id string) (domain.Record, error) {
	return m.next.Load(ctx, id)
}

func (m *piiMiddleware) Delete(ctx context.Context, id string) error {
	return m.next.Delete(ctx, id)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *piiMiddleware) matches(key string) bool {
	for _, p := range m.patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}

func (m *piiMiddleware) maskMap(v map[string]any) {
	for k, sub := range v {
		if m.matches(k) {
			v[k] = Mask
			continue
		}
		if subMap, ok := sub.(map[string]any); ok {
			m.maskMap(subMap)
		}
	}
}

// Helpers

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v
		}
	}
	return out
}
