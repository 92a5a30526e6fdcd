package registry

import (
	"context"
	"fmt"
)

// SignOut returns a command that signs the user out of connection and, when message is
// not empty, confirms it to the user.
func SignOut(connection, message string) Command {
	return CommandFunc(func(ctx context.Context, dc DialogContext) (Signal, error) {
		if err := dc.SignOut(ctx, connection); err != nil {
			return SignalContinue, fmt.Errorf("sign out of %s: %w", connection, err)
		}
		if message != "" {
			dc.Send(message)
		}
		return SignalContinue, nil
	})
}

// Complete returns a command that only ends the active dialog.
func Complete() Command {
	return CommandFunc(func(context.Context, DialogContext) (Signal, error) {
		return SignalComplete, nil
	})
}
