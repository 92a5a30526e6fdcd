package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/parley/internal/validator"
	"github.com/aretw0/parley/pkg/adapters/loam"
	"github.com/aretw0/parley/pkg/config"
)

// Report is the outcome of validating a project.
type Report struct {
	DialogID  string
	Triggers  int
	Prompts   int
	Templates int
	Issues    []validator.Issue
}

// Validate builds the engine (which compiles every expression, template and reference)
// and lints the dialog. The returned error covers build failures and error-level issues.
func Validate(ctx context.Context, cfg config.Config, dir string, logger *slog.Logger) (Report, error) {
	rt, err := Build(ctx, cfg, logger, WithBaseDir(dir))
	if err != nil {
		return Report{}, err
	}
	defer rt.Close()

	d := rt.Engine.Dialog()
	rep := Report{
		DialogID:  d.ID,
		Triggers:  len(d.Triggers),
		Prompts:   len(d.Prompts),
		Templates: len(rt.Engine.Templates()),
		Issues:    validator.ValidateDialog(d),
	}
	return rep, validator.Err(rep.Issues)
}

// PrintReport writes a human readable report.
func PrintReport(w io.Writer, rep Report, err error) {
	if rep.DialogID != "" {
		fmt.Fprintf(w, "Dialog %q: %d triggers, %d prompts, %d templates\n", rep.DialogID, rep.Triggers, rep.Prompts, rep.Templates)
	}
	for _, issue := range rep.Issues {
		fmt.Fprintln(w, "  "+issue.String())
	}
	if err != nil {
		fmt.Fprintf(w, "Validation failed: %v\n", err)
		return
	}
	fmt.Fprintln(w, "Dialog is valid! ✅")
}

// WatchValidate validates dir now and again after every change to a markdown, JSON or
// YAML file under it, until ctx is done. Bursts of changes are folded into one run.
func WatchValidate(ctx context.Context, cfg config.Config, dir string, w io.Writer, logger *slog.Logger) error {
	run := func() {
		rep, err := Validate(ctx, cfg, dir, logger)
		PrintReport(w, rep, err)
	}
	run()

	src, err := loam.Open(dir)
	if err != nil {
		return err
	}
	changes, err := src.Watch(ctx)
	if err != nil {
		return err
	}
	printSystemMessage(w, "Watching '%s' for changes. Press Ctrl+C to stop.", dir)

	const settle = 200 * time.Millisecond
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case id, ok := <-changes:
			if !ok {
				return nil
			}
			logger.Debug("change detected", "file", id)
			pending = time.After(settle)
		case <-pending:
			pending = nil
			printSystemMessage(w, "Change detected, validating again...")
			run()
		}
	}
}
