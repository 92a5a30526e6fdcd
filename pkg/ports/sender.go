package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// Sender delivers outbound activities to the channel of a conversation.
// It is only called after the turn's state was committed.
type Sender interface {
	Send(ctx context.Context, conversationID string, activities []domain.Activity) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, conversationID string, activities []domain.Activity) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, conversationID string, activities []domain.Activity) error {
	return f(ctx, conversationID, activities)
}
