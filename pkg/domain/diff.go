package domain

import (
	"reflect"
	"sort"
)

// StateDiff is the change set of one persisted record produced by a turn.
// A batch of diffs is committed atomically by a StateStore.
type StateDiff struct {
	// ID identifies the record (conversation/<channel>/<id> or user/<channel>/<id>).
	ID string `json:"id"`

	// Set contains added or modified top-level keys with their new values.
	Set map[string]any `json:"set,omitempty"`

	// Deleted lists top-level keys removed from the record, sorted.
	Deleted []string `json:"deleted,omitempty"`
}

// Diff calculates the difference between the old and new contents of record id.
// A nil old record means the record is new: every key of next is a change.
// Returns nil when nothing changed.
func Diff(id string, old, next Record) *StateDiff {
	diff := &StateDiff{ID: id}

	for k, newVal := range next {
		oldVal, exists := old[k]
		if !exists || !reflect.DeepEqual(oldVal, newVal) {
			if diff.Set == nil {
				diff.Set = make(map[string]any)
			}
			diff.Set[k] = newVal
		}
	}

	for k := range old {
		if _, exists := next[k]; !exists {
			diff.Deleted = append(diff.Deleted, k)
		}
	}
	sort.Strings(diff.Deleted)

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *StateDiff) IsEmpty() bool {
	return d == nil || (len(d.Set) == 0 && len(d.Deleted) == 0)
}

// Apply returns a copy of base with the diff applied.
// A nil base is treated as an empty record.
func (d *StateDiff) Apply(base Record) Record {
	out := base.Clone()
	if d == nil {
		return out
	}
	for k, v := range d.Set {
		out[k] = v
	}
	for _, k := range d.Deleted {
		delete(out, k)
	}
	return out
}
