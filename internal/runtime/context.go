package runtime

import (
	"context"
	"log/slog"

	"github.com/aretw0/parley/pkg/domain"
)

// dialogContext is the registry.DialogContext handed to commands.
type dialogContext struct {
	engine *Engine
	ts     *turnState
}

func (d *dialogContext) Turn() domain.ConversationTurn { return d.ts.turn }

func (d *dialogContext) Get(path string) any {
	v, _ := d.ts.scopes.Resolve(path)
	return v
}

func (d *dialogContext) Set(property string, value any) error {
	return d.ts.scopes.SetProperty(property, value)
}

func (d *dialogContext) Send(text string) { d.ts.reply(text) }

func (d *dialogContext) Logger() *slog.Logger { return d.ts.logger }

// SignOut signs the user out within the running turn: the provider forgets the token,
// any pending sign-in of connection is dropped, and tokens already placed in turn scope
// are removed so later actions of this turn cannot use them.
func (d *dialogContext) SignOut(ctx context.Context, connection string) error {
	e := d.engine
	if e.auth == nil {
		return errNoAuth
	}
	if err := e.auth.SignOut(ctx, d.ts.turn.From.ID, connection); err != nil {
		return err
	}
	e.dropSignIn(ctx, &d.ts.stack, connection, d.ts.turn.ConversationID)

	turn := d.ts.scopes.Snapshot(domain.ScopeTurn)
	for k, v := range turn {
		if m, ok := v.(map[string]any); ok && m["connectionName"] == connection && m["token"] != nil {
			delete(turn, k)
		}
	}
	d.ts.logger.Info("user signed out", "connection", connection)
	return nil
}
