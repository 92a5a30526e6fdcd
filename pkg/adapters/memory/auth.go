package memory

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/google/uuid"
)

// Auth implements ports.AuthConnection without a real identity provider.
// Sign-ins are completed by calling Approve, which plays the part of the user
// finishing the login page and returns the magic code the page would display.
type Auth struct {
	baseURL string

	mu      sync.Mutex
	tokens  map[string]domain.TokenRecord // userID|connection -> token
	pending map[string]string             // state -> userID|connection
	codes   map[string]string             // code -> userID|connection
	seq     int
}

// NewAuth creates an in-memory auth connection whose sign-in links point at baseURL.
func NewAuth(baseURL string) *Auth {
	if baseURL == "" {
		baseURL = "https://login.example.test/signin"
	}
	return &Auth{
		baseURL: baseURL,
		tokens:  make(map[string]domain.TokenRecord),
		pending: make(map[string]string),
		codes:   make(map[string]string),
	}
}

func authKey(userID, connection string) string { return userID + "|" + connection }

// GetToken returns the cached token, or domain.ErrNoToken.
func (a *Auth) GetToken(ctx context.Context, userID, connection string) (domain.TokenRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tok, ok := a.tokens[authKey(userID, connection)]
	if !ok {
		return domain.TokenRecord{}, domain.ErrNoToken
	}
	return tok, nil
}

// BeginSignIn registers a pending sign-in and returns its link.
func (a *Auth) BeginSignIn(ctx context.Context, userID, connection string) (domain.SignInAffordance, error) {
	state := uuid.NewString()
	a.mu.Lock()
	a.pending[state] = authKey(userID, connection)
	a.mu.Unlock()

	q := url.Values{"state": {state}, "connection": {connection}}
	return domain.SignInAffordance{URL: a.baseURL + "?" + q.Encode(), State: state}, nil
}

// Approve completes every pending sign-in of the user for connection and returns the
// six digit code the user would type back into the conversation.
func (a *Auth) Approve(userID, connection string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := authKey(userID, connection)
	for state, k := range a.pending {
		if k == key {
			delete(a.pending, state)
		}
	}
	a.seq++
	code := fmt.Sprintf("%06d", (a.seq*7919)%1000000)
	a.codes[code] = key
	return code
}

// Exchange redeems a code issued by Approve. Codes are single use.
func (a *Auth) Exchange(ctx context.Context, userID, connection, code string) (domain.TokenRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := authKey(userID, connection)
	if a.codes[code] != key {
		return domain.TokenRecord{}, fmt.Errorf("invalid code for %s", connection)
	}
	delete(a.codes, code)
	tok := domain.TokenRecord{ConnectionName: connection, Token: "tok-" + uuid.NewString()}
	a.tokens[key] = tok
	return tok, nil
}

// Issue caches a token for the user, as if they had signed in earlier.
func (a *Auth) Issue(userID, connection, token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[authKey(userID, connection)] = domain.TokenRecord{ConnectionName: connection, Token: token}
}

// Remember caches a token the channel delivered for the user.
func (a *Auth) Remember(ctx context.Context, userID string, tok domain.TokenRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[authKey(userID, tok.ConnectionName)] = tok
	return nil
}

// SignOut forgets the user's token and any outstanding codes.
func (a *Auth) SignOut(ctx context.Context, userID, connection string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := authKey(userID, connection)
	delete(a.tokens, key)
	for code, k := range a.codes {
		if k == key {
			delete(a.codes, code)
		}
	}
	return nil
}
