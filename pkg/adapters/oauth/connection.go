// Package oauth implements ports.AuthConnection on top of golang.org/x/oauth2.
//
// Sign-in follows the magic code flow: BeginSignIn returns the provider's authorization
// URL, the provider redirects to CallbackHandler, which exchanges the authorization code
// for a token and shows the user a short code. The user types that code into the
// conversation and the token prompt redeems it with Exchange.
package oauth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// DefaultPendingTTL bounds how long a sign-in URL and a magic code stay valid.
const DefaultPendingTTL = 10 * time.Minute

var (
	// ErrUnknownConnection is returned for a connection name that was never registered.
	ErrUnknownConnection = errors.New("unknown auth connection")
	// ErrInvalidCode is returned when a magic code is unknown, expired or belongs to someone else.
	ErrInvalidCode = errors.New("invalid or expired sign-in code")
)

type tokenKey struct{ user, connection string }

type pendingSignIn struct {
	user       string
	connection string
	verifier   string
	expires    time.Time
}

type issuedCode struct {
	user       string
	connection string
	token      *oauth2.Token
	expires    time.Time
}

// Provider holds named OAuth connections and the tokens obtained through them.
type Provider struct {
	logger *slog.Logger
	ttl    time.Duration
	clock  func() time.Time

	mu          sync.Mutex
	connections map[string]*oauth2.Config
	states      map[string]pendingSignIn
	codes       map[string]issuedCode
	tokens      map[tokenKey]*oauth2.Token
}

// Option configures the Provider.
type Option func(*Provider)

// WithConnection registers cfg under name.
func WithConnection(name string, cfg *oauth2.Config) Option {
	return func(p *Provider) { p.connections[name] = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPendingTTL sets how long sign-in states and magic codes remain valid.
func WithPendingTTL(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.ttl = d
		}
	}
}

// WithClock replaces the wall clock (tests).
func WithClock(clock func() time.Time) Option {
	return func(p *Provider) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewProvider creates a provider with the given connections.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		logger:      logging.NewNop(),
		ttl:         DefaultPendingTTL,
		clock:       time.Now,
		connections: make(map[string]*oauth2.Config),
		states:      make(map[string]pendingSignIn),
		codes:       make(map[string]issuedCode),
		tokens:      make(map[tokenKey]*oauth2.Token),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) config(connection string) (*oauth2.Config, error) {
	cfg, ok := p.connections[connection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, connection)
	}
	return cfg, nil
}

// GetToken returns the cached token, refreshing it when it expired and a refresh token exists.
func (p *Provider) GetToken(ctx context.Context, userID, connection string) (domain.TokenRecord, error) {
	p.mu.Lock()
	cfg, err := p.config(connection)
	if err != nil {
		p.mu.Unlock()
		return domain.TokenRecord{}, err
	}
	key := tokenKey{userID, connection}
	tok, ok := p.tokens[key]
	p.mu.Unlock()
	if !ok {
		return domain.TokenRecord{}, domain.ErrNoToken
	}

	if !tok.Valid() {
		if tok.RefreshToken == "" {
			p.forget(key, tok)
			return domain.TokenRecord{}, domain.ErrNoToken
		}
		fresh, err := cfg.TokenSource(ctx, tok).Token()
		if err != nil {
			p.logger.Warn("token refresh failed", "connection", connection, "err", err)
			p.forget(key, tok)
			return domain.TokenRecord{}, domain.ErrNoToken
		}
		p.mu.Lock()
		// A sign-out while refreshing wins.
		if p.tokens[key] == tok {
			p.tokens[key] = fresh
		}
		p.mu.Unlock()
		tok = fresh
	}
	return record(connection, tok), nil
}

func (p *Provider) forget(key tokenKey, tok *oauth2.Token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tokens[key] == tok {
		delete(p.tokens, key)
	}
}

// BeginSignIn returns the provider's authorization URL for the user.
func (p *Provider) BeginSignIn(ctx context.Context, userID, connection string) (domain.SignInAffordance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, err := p.config(connection)
	if err != nil {
		return domain.SignInAffordance{}, err
	}
	p.pruneLocked()

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	p.states[state] = pendingSignIn{
		user:       userID,
		connection: connection,
		verifier:   verifier,
		expires:    p.clock().Add(p.ttl),
	}
	url := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
	return domain.SignInAffordance{URL: url, State: state}, nil
}

// Exchange redeems a magic code shown by CallbackHandler.
func (p *Provider) Exchange(ctx context.Context, userID, connection, code string) (domain.TokenRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.config(connection); err != nil {
		return domain.TokenRecord{}, err
	}
	issued, ok := p.codes[code]
	if !ok || issued.user != userID || issued.connection != connection || p.clock().After(issued.expires) {
		return domain.TokenRecord{}, ErrInvalidCode
	}
	delete(p.codes, code)
	p.tokens[tokenKey{userID, connection}] = issued.token
	return record(connection, issued.token), nil
}

// Remember adopts an access token the channel delivered for the user. It carries no
// refresh token, so it is dropped once it expires.
func (p *Provider) Remember(ctx context.Context, userID string, tok domain.TokenRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.config(tok.ConnectionName); err != nil {
		return err
	}
	p.tokens[tokenKey{userID, tok.ConnectionName}] = &oauth2.Token{
		AccessToken: tok.Token,
		TokenType:   "Bearer",
		Expiry:      tok.Expiration,
	}
	return nil
}

// SignOut forgets the user's token and any code or sign-in in flight. It is idempotent.
func (p *Provider) SignOut(ctx context.Context, userID, connection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, tokenKey{userID, connection})
	for code, issued := range p.codes {
		if issued.user == userID && issued.connection == connection {
			delete(p.codes, code)
		}
	}
	for state, pending := range p.states {
		if pending.user == userID && pending.connection == connection {
			delete(p.states, state)
		}
	}
	return nil
}

func (p *Provider) pruneLocked() {
	now := p.clock()
	for state, pending := range p.states {
		if now.After(pending.expires) {
			delete(p.states, state)
		}
	}
	for code, issued := range p.codes {
		if now.After(issued.expires) {
			delete(p.codes, code)
		}
	}
}

func record(connection string, tok *oauth2.Token) domain.TokenRecord {
	return domain.TokenRecord{
		ConnectionName: connection,
		Token:          tok.AccessToken,
		Expiration:     tok.Expiry,
	}
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Sign in</title></head>
<body>
<p>{{.Message}}</p>
{{if .Code}}<p>Type this code in the conversation to finish signing in:</p>
<h1 id="code">{{.Code}}</h1>{{end}}
</body>
</html>
`))

// CallbackHandler completes the authorization code grant and shows the magic code.
// Mount it at the redirect URL of every registered connection.
func (p *Provider) CallbackHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		render := func(status int, message, code string) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(status)
			_ = callbackPage.Execute(w, struct{ Message, Code string }{message, code})
		}
		if e := q.Get("error"); e != "" {
			p.logger.Warn("sign-in denied by provider", "error", e)
			render(http.StatusBadRequest, "Sign-in was not completed.", "")
			return
		}

		p.mu.Lock()
		pending, ok := p.states[q.Get("state")]
		if ok {
			delete(p.states, q.Get("state"))
		}
		p.mu.Unlock()
		if !ok || p.clock().After(pending.expires) {
			render(http.StatusBadRequest, "This sign-in link has expired. Please start again.", "")
			return
		}

		cfg := p.connections[pending.connection]
		tok, err := cfg.Exchange(r.Context(), q.Get("code"), oauth2.VerifierOption(pending.verifier))
		if err != nil {
			p.logger.Error("authorization code exchange failed", "connection", pending.connection, "err", err)
			render(http.StatusBadGateway, "Sign-in failed. Please try again.", "")
			return
		}

		code, err := magicCode()
		if err != nil {
			render(http.StatusInternalServerError, "Sign-in failed. Please try again.", "")
			return
		}
		p.mu.Lock()
		p.codes[code] = issuedCode{
			user:       pending.user,
			connection: pending.connection,
			token:      tok,
			expires:    p.clock().Add(p.ttl),
		}
		p.mu.Unlock()
		render(http.StatusOK, "You are signed in.", code)
	})
}

func magicCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
