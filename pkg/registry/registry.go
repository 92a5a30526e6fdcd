package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
)

// Signal tells the executor how to proceed after a command ran.
type Signal int

const (
	// SignalContinue resumes with the next action.
	SignalContinue Signal = iota
	// SignalComplete ends the active dialog, like a Complete action.
	SignalComplete
)

// DialogContext is the view of the running turn handed to a command.
type DialogContext interface {
	// Turn returns the inbound turn being processed.
	Turn() domain.ConversationTurn
	// Get resolves a property path with the usual read precedence.
	Get(path string) any
	// Set writes a scoped property (turn., dialog., conversation., user. or $).
	Set(property string, value any) error
	// Send queues an outbound message. It is delivered only if the turn commits.
	Send(text string)
	// SignOut invalidates the user's token for connection and drops any sign-in in flight.
	SignOut(ctx context.Context, connection string) error
	// Logger returns the turn-scoped logger.
	Logger() *slog.Logger
}

// Command is a host-provided callback invoked by a RunCallback action.
type Command interface {
	Execute(ctx context.Context, dc DialogContext) (Signal, error)
}

// CommandFunc adapts a function to the Command interface.
type CommandFunc func(ctx context.Context, dc DialogContext) (Signal, error)

// Execute calls f.
func (f CommandFunc) Execute(ctx context.Context, dc DialogContext) (Signal, error) {
	return f(ctx, dc)
}

// Registry manages the available commands.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]Command),
	}
}

// Register adds a command to the registry.
// If a command with the same name exists, it is overwritten.
func (r *Registry) Register(name string, cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = cmd
}

// RegisterFunc is a shortcut for Register(name, CommandFunc(fn)).
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context, dc DialogContext) (Signal, error)) {
	r.Register(name, CommandFunc(fn))
}

// Lookup returns the command registered under name.
func (r *Registry) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute looks up a command by name and executes it.
// Returns an error wrapping domain.ErrUnknownCommand if the command is not found.
func (r *Registry) Execute(ctx context.Context, name string, dc DialogContext) (Signal, error) {
	cmd, ok := r.Lookup(name)
	if !ok {
		return SignalContinue, fmt.Errorf("%w: %s", domain.ErrUnknownCommand, name)
	}
	return cmd.Execute(ctx, dc)
}
