package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// Recognizer classifies an utterance into an intent.
// Implementations may call remote services; the engine bounds the call with a deadline
// and treats any error as the unknown intent.
type Recognizer interface {
	Recognize(ctx context.Context, utterance, locale string) (domain.RecognizerResult, error)
}

// RecognizerFunc adapts a function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, utterance, locale string) (domain.RecognizerResult, error)

// Recognize calls f.
func (f RecognizerFunc) Recognize(ctx context.Context, utterance, locale string) (domain.RecognizerResult, error) {
	return f(ctx, utterance, locale)
}
