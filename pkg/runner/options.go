package runner

import (
	"log/slog"
)

// Option defines a functional option for configuring the Runner.
type Option func(*Runner)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.Logger = logger
		}
	}
}

// WithInputHandler configures a custom IOHandler.
func WithInputHandler(handler IOHandler) Option {
	return func(r *Runner) {
		r.Handler = handler
	}
}

// WithChannelID sets the channel the turns are attributed to.
func WithChannelID(id string) Option {
	return func(r *Runner) {
		r.ChannelID = id
	}
}

// WithConversationID sets the conversation to create or resume.
func WithConversationID(id string) Option {
	return func(r *Runner) {
		r.ConversationID = id
	}
}

// WithUser sets the identity of the local user. Empty values keep the defaults.
func WithUser(id, name string) Option {
	return func(r *Runner) {
		if id != "" {
			r.User.ID = id
		}
		if name != "" {
			r.User.Name = name
		}
	}
}

// WithBotID sets the recipient of the turns.
func WithBotID(id string) Option {
	return func(r *Runner) {
		if id != "" {
			r.Bot.ID = id
		}
	}
}

// WithLocale sets the locale of every turn.
func WithLocale(locale string) Option {
	return func(r *Runner) {
		r.Locale = locale
	}
}

// WithJoin makes the runner announce the user with a conversationUpdate turn before
// the first read, which is how a channel greets a new member.
func WithJoin(join bool) Option {
	return func(r *Runner) {
		r.Join = join
	}
}

// WithFailureMessage sets the text shown when a turn fails.
func WithFailureMessage(text string) Option {
	return func(r *Runner) {
		if text != "" {
			r.FailureMessage = text
		}
	}
}
