/*
Package domain contains the core domain models of the Parley dialog engine.

It defines the inbound turn, the outbound activity, the dialog building blocks (trigger
rules, actions and prompt specs) and the persisted conversation state (records, dialog
stack frames and diffs). This package is kept pure and free of external dependencies
like I/O or persistence, following Hexagonal Architecture principles.

# Key Entities

  - ConversationTurn: One inbound event (message, conversation update or event).
  - Dialog: The ordered trigger rules plus the prompts they may invoke.
  - Action: A closed set of steps (SendMessage, If, ForEach, InvokePrompt, RunCallback, SetProperty, Complete).
  - DialogStack: The frames of a conversation; only the top frame receives the next turn.
  - Record / StateDiff: The persisted scopes and the per-turn change set committed atomically.
*/
package domain
