package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// AuthConnection is a named third-party identity provider reachable on behalf of a user.
type AuthConnection interface {
	// GetToken returns a cached token for the user.
	// Returns domain.ErrNoToken when the user is not signed in.
	GetToken(ctx context.Context, userID, connection string) (domain.TokenRecord, error)

	// BeginSignIn returns the affordance (URL) the user follows to sign in.
	BeginSignIn(ctx context.Context, userID, connection string) (domain.SignInAffordance, error)

	// Exchange redeems a magic code typed by the user for a token.
	Exchange(ctx context.Context, userID, connection, code string) (domain.TokenRecord, error)

	// SignOut invalidates any token held for the user. It is idempotent.
	SignOut(ctx context.Context, userID, connection string) error
}

// TokenCache is implemented by connections that can adopt a token the channel delivered
// out of band, so that later GetToken calls return it.
type TokenCache interface {
	Remember(ctx context.Context, userID string, tok domain.TokenRecord) error
}
