// Package oauthbot is the reference bot: it welcomes new members, signs the user in
// against an OAuth connection, offers to show the token and signs the user out on request.
package oauthbot

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/aretw0/parley/pkg/adapters/yamlfile"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/dsl"
	"github.com/aretw0/parley/pkg/registry"
)

//go:embed templates.yaml
var templatesYAML []byte

// Identifiers used by the dialog.
const (
	DialogID      = "RootDialog"
	LoginPrompt   = "login"
	ConfirmPrompt = "showToken"
	SignOutCmd    = "signOut"
	LogoutIntent  = "Logout"
)

// Options tunes the bot. Zero values select the defaults of the sample.
type Options struct {
	Connection  string
	Timeout     time.Duration
	MaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.Timeout == 0 {
		o.Timeout = 15 * time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	return o
}

// Dialog builds the root dialog for the connection in opts.
func Dialog(opts Options) (domain.Dialog, error) {
	opts = opts.withDefaults()
	if opts.Connection == "" {
		return domain.Dialog{}, fmt.Errorf("oauthbot: connection name is required")
	}
	b := dsl.New(DialogID)

	// The token is ephemeral, so it lives in turn scope and is fetched again when needed.
	b.OAuthPrompt(LoginPrompt, "turn.oauth", opts.Connection).
		Card("${SigninTitle()}", "${SigninText()}").
		Reprompt("${SigninReprompt()}").
		Timeout(opts.Timeout).
		MaxAttempts(opts.MaxAttempts)

	b.ConfirmPrompt(ConfirmPrompt, "turn.confirmed", "${ShowTokenPrompt()}").
		Reprompt("${ShowTokenReprompt()}").
		MaxAttempts(opts.MaxAttempts)

	// Some channels announce the bot itself as a new member.
	b.OnConversationStarted().
		Do(dsl.ForEach("turn.activity.membersAdded", "",
			dsl.If("$foreach.value.id != turn.activity.recipient.id",
				dsl.Actions(dsl.Template("Welcome", nil)), nil)))

	b.OnIntent(LogoutIntent).
		Call(SignOutCmd).
		Template("SignoutCompleted", nil)

	b.OnUnknownIntent().
		Prompt(LoginPrompt).
		If("turn.oauth.token && length(turn.oauth.token) > 0",
			dsl.Actions(
				dsl.Template("SigninSuccess", nil),
				dsl.Prompt(ConfirmPrompt),
				dsl.If("=turn.confirmed",
					dsl.Actions(dsl.Prompt(LoginPrompt), dsl.Template("ShowToken", nil)),
					dsl.Actions(dsl.Template("ShowTokenDeclined", nil))),
			),
			dsl.Actions(dsl.Template("SigninFailed", nil)))

	return b.Build()
}

// Templates returns the bot's embedded templates.
func Templates() ([]domain.Template, error) {
	return yamlfile.ParseTemplates(templatesYAML)
}

// Commands returns the callbacks the dialog runs.
func Commands(opts Options) *registry.Registry {
	r := registry.NewRegistry()
	r.Register(SignOutCmd, registry.SignOut(opts.Connection, ""))
	return r
}

// Intents returns the phrases the offline recognizer maps to the bot's intents.
func Intents() map[string][]string {
	return map[string][]string{
		LogoutIntent: {"logout", "log out", "sign out", "signout", "/^log ?off$/"},
	}
}
