package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/google/uuid"
)

// DefaultChannelID is the channel local conversations are attributed to.
const DefaultChannelID = "cli"

// DefaultFailureMessage is shown when a turn fails without producing a reply.
const DefaultFailureMessage = "The bot encountered an error or bug."

// Engine is the part of the dialog engine the runner drives.
type Engine interface {
	ProcessTurn(ctx context.Context, turn domain.ConversationTurn) ([]domain.Activity, error)
}

// Runner handles the chat loop of one local conversation.
type Runner struct {
	// Handler is the strategy for IO. Defaults to a TextHandler on stdin/stdout.
	Handler IOHandler

	// Logger is used for internal debug logging.
	Logger *slog.Logger

	ChannelID      string
	ConversationID string
	User           domain.ChannelAccount
	Bot            domain.ChannelAccount
	Locale         string
	Join           bool
	FailureMessage string

	// clock stamps turns; replaced in tests.
	clock func() time.Time
}

// NewRunner creates a Runner. Without WithConversationID a fresh id is generated.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		Logger:         logging.NewNop(),
		ChannelID:      DefaultChannelID,
		User:           domain.ChannelAccount{ID: "local-user", Name: "You"},
		Bot:            domain.ChannelAccount{ID: "parley", Name: "Parley"},
		FailureMessage: DefaultFailureMessage,
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ConversationID == "" {
		r.ConversationID = uuid.NewString()
	}
	return r
}

// Run executes the loop until the input ends, the user types "exit"/"quit", the
// process is interrupted or ctx is cancelled. A failing turn is reported and the loop
// goes on; only IO failures end Run with an error.
func (r *Runner) Run(ctx context.Context, engine Engine) error {
	handler := r.resolveHandler()

	signals := NewSignalManager(ctx)
	defer signals.Stop()

	r.Logger.Debug("chat started", "conversation_id", r.ConversationID, "channel_id", r.ChannelID)

	if r.Join {
		join := domain.ConversationTurn{
			Type:         domain.TurnConversationUpdate,
			MembersAdded: []domain.ChannelAccount{r.User},
		}
		if err := r.turn(signals.Context(), engine, handler, join); err != nil {
			return err
		}
	}

	for {
		in, err := handler.Input(signals.Context())
		if err != nil {
			signals.CheckRace()
			if signals.Context().Err() != nil || errors.Is(err, io.EOF) {
				r.Logger.Debug("chat ended", "conversation_id", r.ConversationID, "reason", err)
				return nil
			}
			if errors.Is(err, domain.ErrInvalidTurn) {
				if err := handler.SystemOutput(ctx, err.Error()); err != nil {
					return fmt.Errorf("output error: %w", err)
				}
				continue
			}
			return fmt.Errorf("input error: %w", err)
		}

		if in.Type == domain.TurnMessage {
			switch strings.ToLower(strings.TrimSpace(in.Text)) {
			case "exit", "quit":
				return nil
			case "":
				continue
			}
		}

		if err := r.turn(signals.Context(), engine, handler, in); err != nil {
			return err
		}
	}
}

// turn sends one turn and presents its outcome. It only fails on output errors.
func (r *Runner) turn(ctx context.Context, engine Engine, handler IOHandler, in domain.ConversationTurn) error {
	turn := r.address(in)
	activities, err := engine.ProcessTurn(ctx, turn)
	if outErr := handler.Output(ctx, activities); outErr != nil {
		return fmt.Errorf("output error: %w", outErr)
	}
	if err == nil {
		return nil
	}

	switch {
	case ctx.Err() != nil:
		return nil
	case len(activities) > 0:
		// Committed, but delivery downstream failed.
		r.Logger.Warn("turn delivered with errors", "conversation_id", turn.ConversationID, "err", err)
		return nil
	case errors.Is(err, domain.ErrInvalidTurn):
		return handler.SystemOutput(ctx, err.Error())
	default:
		r.Logger.Error("turn failed", "conversation_id", turn.ConversationID, "turn_id", turn.ID, "err", err)
		return handler.SystemOutput(ctx, r.FailureMessage)
	}
}

// address fills the routing fields of a turn read from the handler.
func (r *Runner) address(in domain.ConversationTurn) domain.ConversationTurn {
	turn := in
	turn.ID = uuid.NewString()
	turn.ChannelID = r.ChannelID
	turn.ConversationID = r.ConversationID
	turn.From = r.User
	turn.Recipient = r.Bot
	turn.Timestamp = r.clock()
	if turn.Locale == "" {
		turn.Locale = r.Locale
	}
	return turn
}

func (r *Runner) resolveHandler() IOHandler {
	if r.Handler == nil {
		// Memoize so a second Run reuses the same input pump.
		r.Handler = NewTextHandler(os.Stdin, os.Stdout)
	}
	return r.Handler
}
