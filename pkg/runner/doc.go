/*
Package runner drives a Parley engine from a local terminal or a JSON-lines pipe.

Each line the user types becomes one message turn; the activities the engine returns
are written back before the next line is read. Ctrl+C ends the conversation cleanly,
and the conversation state lives in whatever store backs the engine, so a chat can be
resumed later with the same conversation id.

# Usage

	r := runner.NewRunner(
		runner.WithConversationID("local-1"),
		runner.WithInputHandler(runner.NewTextHandler(os.Stdin, os.Stdout)),
	)

	if err := r.Run(ctx, engine); err != nil {
		log.Fatal(err)
	}
*/
package runner
