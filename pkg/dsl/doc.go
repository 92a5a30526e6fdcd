/*
Package dsl provides a Go DSL for programmatically constructing Parley dialogs.

It lets developers define rules and prompts with a fluent builder instead of YAML files,
which is handy for tests and for bots assembled at runtime.

Example usage:

	b := dsl.New("root")

	b.ConfirmPrompt("ask", "turn.confirmed", "Shall we continue?").
		Reprompt("Please answer yes or no.").
		MaxAttempts(3)

	b.OnConversationStarted().
		Send("Hello!")

	b.OnUnknownIntent().
		Prompt("ask").
		If("turn.confirmed", dsl.Actions(dsl.Send("Great.")), dsl.Actions(dsl.Send("Maybe later.")))

	dialog, err := b.Build()
	// ... pass dialog to parley.New(...)
*/
package dsl
