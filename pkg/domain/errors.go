package domain

import "errors"

// ErrStateNotFound is returned when a record id cannot be found in the store.
var ErrStateNotFound = errors.New("state not found")

// ErrReservedKey is returned when a write targets an engine-owned key (leading underscore).
var ErrReservedKey = errors.New("reserved key")

// ErrUnscopedProperty is returned when a property path does not name a scope.
var ErrUnscopedProperty = errors.New("property must name a scope (turn., dialog., conversation., user. or $)")

// ErrUnknownPrompt is returned when an action references a prompt that is not registered.
var ErrUnknownPrompt = errors.New("unknown prompt")

// ErrUnknownTemplate is returned when a template name is not registered.
var ErrUnknownTemplate = errors.New("unknown template")

// ErrUnknownCommand is returned when a callback name is not registered.
var ErrUnknownCommand = errors.New("unknown command")

// ErrCorruptStack is returned when a persisted dialog stack cannot be decoded or resumed.
var ErrCorruptStack = errors.New("corrupt dialog stack")

// ErrNoToken is returned by an auth connection that holds no token for a user.
var ErrNoToken = errors.New("no token")

// ErrInvalidTurn is returned when an inbound turn lacks routing identifiers.
var ErrInvalidTurn = errors.New("invalid turn")
