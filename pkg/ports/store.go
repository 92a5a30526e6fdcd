package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// StateStore defines the interface for persisting conversation and user records.
// This allows a conversation to resume on any replica after a restart.
type StateStore interface {
	// Load retrieves the record with the given id.
	// Returns domain.ErrStateNotFound if the record does not exist.
	Load(ctx context.Context, id string) (domain.Record, error)

	// Commit applies every diff as one atomic unit: either all records change or none do.
	// A diff for a record that does not exist yet creates it.
	Commit(ctx context.Context, diffs ...domain.StateDiff) error

	// Delete removes the record with the given id. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error

	// List returns the ids of all stored records.
	List(ctx context.Context) ([]string, error)
}
