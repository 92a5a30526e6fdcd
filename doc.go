/*
Package parley is a turn-based conversational dialog engine.

A bot is described declaratively as a dialog: trigger rules fired by recognised intents
or conversation events, each running a small program of actions (send a templated
message, ask a prompt, branch, loop, call a registered command, set a property). The
engine processes one inbound activity at a time, persists the conversation's dialog
stack between turns and resumes a suspended prompt when the next message arrives.

# Concept

Parley separates the dialog (what the bot says and asks) from the conversation state
(the dialog stack and the conversation and user records) and from side effects (intent
recognition, token service, commands). Each of those is a port with adapters, so the
same dialog runs in a terminal, behind an HTTP channel or as MCP tools.

# Key Features

  - Durable turns: every turn commits the conversation and user records atomically.
  - Prompts: text, yes/no and OAuth sign-in prompts with reprompts, attempts and timeouts.
  - Pluggable storage: in-memory, files, SQLite and Redis, with encryption and PII masking.
  - Templates: named, parameterised reply templates with an expression language.

# Usage

	package main

	import (
		"context"
		"log"
		"os"

		"github.com/aretw0/parley"
	)

	func main() {
		// Run the built-in sign-in bot against the "GitHub" connection.
		eng, err := parley.New("", parley.WithReferenceBot("GitHub"))
		if err != nil {
			log.Fatal(err)
		}

		// Chat on the terminal until the user types "exit".
		if err := eng.Chat(context.Background(), os.Stdin, os.Stdout); err != nil {
			log.Fatal(err)
		}
	}

Dialogs can also be authored in YAML and loaded with parley.New("dialog.yaml"), or built
in Go with pkg/dsl and passed with WithDialog.
*/
package parley
