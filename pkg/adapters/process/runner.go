// Package process exposes allow-listed local programs as dialog commands.
//
// Only programs declared up front can run, and turn data reaches them through
// environment variables, never through arguments, so user text cannot inject flags.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/registry"
	"github.com/aretw0/parley/pkg/schema"
)

const (
	// DefaultTimeout bounds a command run without its own timeout.
	DefaultTimeout = 30 * time.Second
	// DefaultGracePeriod is how long a cancelled program may take to exit before it is killed.
	DefaultGracePeriod = 5 * time.Second
)

// Output is the structured reply a program may print on stdout.
// Anything that does not decode as Output is sent to the user as plain text.
type Output struct {
	Send     messages       `json:"send"`
	Set      map[string]any `json:"set"`
	Complete bool           `json:"complete"`
}

// messages accepts either a single string or a list of strings.
type messages []string

func (m *messages) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*m = messages{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*m = many
	return nil
}

// Runner owns the allow-list of programs.
type Runner struct {
	commands map[string]CommandConfig
	baseDir  string
	grace    time.Duration
	logger   *slog.Logger
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithCommands populates the allow-list from a loaded config.
func WithCommands(commands map[string]CommandConfig) RunnerOption {
	return func(r *Runner) {
		for name, c := range commands {
			c.Name = name
			r.commands[name] = c
		}
	}
}

// WithBaseDir sets the working directory for executed programs.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithGracePeriod sets how long a cancelled program may take to exit.
func WithGracePeriod(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.grace = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a runner with an empty allow-list.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		commands: make(map[string]CommandConfig),
		grace:    DefaultGracePeriod,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted program to the allow-list.
func (r *Runner) Register(name string, command string, args ...string) {
	r.commands[name] = CommandConfig{Name: name, Command: command, Args: args}
}

// RegisterAll adds every allow-listed program to reg.
func (r *Runner) RegisterAll(reg *registry.Registry) {
	for name := range r.commands {
		reg.Register(name, r.Command(name))
	}
}

// Command returns the registry command that runs the named program.
func (r *Runner) Command(name string) registry.Command {
	return registry.CommandFunc(func(ctx context.Context, dc registry.DialogContext) (registry.Signal, error) {
		return r.Run(ctx, name, dc)
	})
}

// Run executes the named program for the current turn and applies its output.
func (r *Runner) Run(ctx context.Context, name string, dc registry.DialogContext) (registry.Signal, error) {
	c, ok := r.commands[name]
	if !ok {
		return registry.SignalContinue, fmt.Errorf("process command not registered: %s", name)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = r.baseDir
	cmd.Env = append(cmd.Environ(), r.environment(c, dc)...)
	cmd.WaitDelay = r.grace
	if runtime.GOOS != "windows" {
		// Ask politely first; WaitDelay kills the program if it ignores the signal.
		cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	dc.Logger().Debug("process command finished", "command", name, "duration", time.Since(start), "err", err)
	if err != nil {
		r.logger.Warn("process command failed", "command", name, "err", err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return registry.SignalContinue, fmt.Errorf("process %s: %w", name, ctxErr)
		}
		return registry.SignalContinue, fmt.Errorf("process %s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}

	sig, err := apply(stdout.String(), c.Returns, dc)
	if err != nil {
		return sig, fmt.Errorf("process %s: %w", name, err)
	}
	return sig, nil
}

// apply turns the program's stdout into dialog effects. With a returns schema the
// output must be structured and its "set" object must conform.
func apply(stdout string, returns schema.Schema, dc registry.DialogContext) (registry.Signal, error) {
	trimmed := strings.TrimSpace(stdout)

	var out Output
	structured := strings.HasPrefix(trimmed, "{") && json.Unmarshal([]byte(trimmed), &out) == nil
	if len(returns) > 0 {
		if !structured {
			return registry.SignalContinue, fmt.Errorf("output is not a JSON object")
		}
		if err := returns.Validate(out.Set); err != nil {
			return registry.SignalContinue, fmt.Errorf("output does not match returns: %w", err)
		}
	}
	if trimmed == "" {
		return registry.SignalContinue, nil
	}

	if structured {
		for prop, v := range out.Set {
			if err := dc.Set(prop, v); err != nil {
				return registry.SignalContinue, fmt.Errorf("set %s: %w", prop, err)
			}
		}
		for _, text := range out.Send {
			dc.Send(text)
		}
		if out.Complete {
			return registry.SignalComplete, nil
		}
		return registry.SignalContinue, nil
	}

	dc.Send(trimmed)
	return registry.SignalContinue, nil
}

var envUnsafe = regexp.MustCompile(`[^A-Z0-9_]`)

// EnvName returns the variable a property path is exported as ("user.name" -> PARLEY_ARG_USER_NAME).
func EnvName(path string) string {
	path = strings.TrimPrefix(path, "$")
	return "PARLEY_ARG_" + envUnsafe.ReplaceAllString(strings.ToUpper(path), "_")
}

func (r *Runner) environment(c CommandConfig, dc registry.DialogContext) []string {
	turn := dc.Turn()
	env := []string{
		"PARLEY_COMMAND=" + c.Name,
		"PARLEY_CHANNEL_ID=" + turn.ChannelID,
		"PARLEY_CONVERSATION_ID=" + turn.ConversationID,
		"PARLEY_USER_ID=" + turn.From.ID,
		"PARLEY_TEXT=" + turn.Text,
		"PARLEY_LOCALE=" + turn.Locale,
	}
	for k, v := range c.Environment {
		env = append(env, k+"="+v)
	}
	for _, path := range c.Inputs {
		env = append(env, EnvName(path)+"="+envValue(dc.Get(path)))
	}
	return env
}

// envValue renders primitives as-is and everything else as JSON.
func envValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", v)
	}
}
