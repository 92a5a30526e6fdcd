package runner

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// IOHandler defines the strategy for talking to the user.
// This allows switching between Text (terminal) and JSON (structured) modes.
type IOHandler interface {
	// Output presents the activities produced by a turn.
	Output(ctx context.Context, activities []domain.Activity) error

	// Input reads the next user turn. Only the content fields (Type, Text, Name, Value)
	// are filled; the runner adds the routing fields.
	// Returns io.EOF when the user is done.
	Input(ctx context.Context) (domain.ConversationTurn, error)

	// SystemOutput presents a meta-message (errors, status) distinct from bot replies.
	SystemOutput(ctx context.Context, msg string) error
}
