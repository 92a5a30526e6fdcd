package cli

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	httpAdapter "github.com/aretw0/parley/pkg/adapters/http"
	"github.com/aretw0/parley/pkg/adapters/mcp"
	"github.com/aretw0/parley/pkg/config"
	"golang.org/x/sync/errgroup"
)

// ServeOptions configures the HTTP channel.
type ServeOptions struct {
	Config config.Config
	Dir    string
	// MCPAddr additionally serves the MCP tools over SSE when set.
	MCPAddr string
}

// NewServer assembles the HTTP channel of rt: the API, the websocket streams the engine
// delivers to, the OAuth redirect endpoint and /metrics when enabled.
func NewServer(rt *Runtime, streams *httpAdapter.StreamManager) *http.Server {
	cfg := rt.Config
	opts := []httpAdapter.Option{
		httpAdapter.WithLogger(rt.Logger),
		httpAdapter.WithStreams(streams),
		httpAdapter.WithFailureMessage(cfg.FailureMessage),
		httpAdapter.WithConnection(cfg.OAuth.Connection),
	}
	if rt.Metrics != nil {
		opts = append(opts, httpAdapter.WithMetricsHandler(rt.Metrics.Handler()))
	}
	if rt.OAuth != nil {
		opts = append(opts, httpAdapter.WithRoute(cfg.OAuth.CallbackPath, rt.OAuth.CallbackHandler()))
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpAdapter.NewHandler(rt.Engine, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Serve runs the HTTP channel (and optionally MCP over SSE) until ctx is cancelled or
// a signal arrives, then shuts down gracefully.
func Serve(ctx context.Context, opts ServeOptions, logger *slog.Logger) error {
	sc := NewSignalContext(ctx)
	defer sc.Cancel()

	streams := httpAdapter.NewStreamManager(logger)
	rt, err := Build(sc, opts.Config, logger, WithBaseDir(opts.Dir), WithSender(streams))
	if err != nil {
		return err
	}
	defer rt.Close()

	g, gctx := errgroup.WithContext(sc)
	g.Go(func() error {
		return serveUntil(gctx, NewServer(rt, streams), logger)
	})
	if opts.MCPAddr != "" {
		srv := mcp.NewServer(rt.Engine,
			mcp.WithLogger(logger),
			mcp.WithConnection(opts.Config.OAuth.Connection),
			mcp.WithBotID(opts.Config.BotID),
		)
		g.Go(func() error { return srv.ServeSSE(gctx, opts.MCPAddr) })
	}

	logger.Info("parley serving", "addr", opts.Config.Addr, "store", opts.Config.Store.Driver,
		"metrics", rt.Metrics != nil, "oauth", rt.OAuth != nil)
	err = g.Wait()
	if sig := sc.Signal(); sig != nil {
		logger.Info("shutdown complete", "signal", sig.String())
	}
	return err
}

// ServeMCP exposes the engine over MCP on stdio, or over SSE when addr is set.
func ServeMCP(ctx context.Context, cfg config.Config, dir, addr string, logger *slog.Logger) error {
	sc := NewSignalContext(ctx)
	defer sc.Cancel()

	rt, err := Build(sc, cfg, logger, WithBaseDir(dir))
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := mcp.NewServer(rt.Engine,
		mcp.WithLogger(logger),
		mcp.WithConnection(cfg.OAuth.Connection),
		mcp.WithBotID(cfg.BotID),
	)
	if addr == "" {
		return srv.ServeStdio()
	}
	return srv.ServeSSE(sc, addr)
}
