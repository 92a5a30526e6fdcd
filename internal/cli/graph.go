package cli

import (
	"context"
	"log/slog"

	"github.com/aretw0/parley/internal/presentation/graph"
	"github.com/aretw0/parley/pkg/config"
)

// Graph renders the configured dialog as a Mermaid flowchart. With a conversation key
// the rules and prompt that conversation is suspended in are highlighted.
func Graph(ctx context.Context, cfg config.Config, dir, sessionKey string, logger *slog.Logger) (string, error) {
	rt, err := Build(ctx, cfg, logger, WithBaseDir(dir))
	if err != nil {
		return "", err
	}
	defer rt.Close()

	var overlay *graph.GraphOverlay
	if sessionKey != "" {
		if overlay, err = SessionOverlay(ctx, rt, sessionKey); err != nil {
			return "", err
		}
	}
	return graph.GenerateMermaid(rt.Engine.Dialog(), overlay), nil
}
