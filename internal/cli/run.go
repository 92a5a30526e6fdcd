package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/presentation/tui"
	"github.com/aretw0/parley/pkg/config"
	"github.com/aretw0/parley/pkg/runner"
	"golang.org/x/sync/errgroup"
)

// ChatOptions configures a local conversation.
type ChatOptions struct {
	Config         config.Config
	Dir            string
	ConversationID string
	UserID         string
	UserName       string
	// JSON switches to one JSON object per line on stdin/stdout.
	JSON bool
	// NoJoin skips the conversationUpdate that greets the user.
	NoJoin bool
	Quiet  bool

	In  io.Reader
	Out *os.File
}

// RunChat holds a conversation with the configured bot on the terminal.
// When a real OAuth provider is configured its callback is served on the configured
// address for the duration of the chat, so sign-in links can be completed.
func RunChat(ctx context.Context, opts ChatOptions, logger *slog.Logger) error {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	sc := NewSignalContext(ctx)
	defer sc.Cancel()

	rt, err := Build(sc, opts.Config, logger, WithBaseDir(opts.Dir))
	if err != nil {
		return err
	}
	defer rt.Close()

	var handler runner.IOHandler
	if opts.JSON {
		handler = runner.NewJSONHandler(opts.In, opts.Out)
	} else {
		var textOpts []runner.TextHandlerOption
		if tui.IsTerminal(opts.Out) {
			if render, err := tui.NewRenderer(opts.Out); err == nil {
				textOpts = append(textOpts, runner.WithTextHandlerRenderer(render))
			} else {
				logger.Debug("markdown renderer unavailable", "err", err)
			}
		}
		handler = runner.NewTextHandler(opts.In, opts.Out, textOpts...)
		if !opts.Quiet {
			tui.PrintBanner(opts.Out, strings.TrimSpace(parley.Version))
		}
	}

	r := runner.NewRunner(
		runner.WithLogger(logger),
		runner.WithInputHandler(handler),
		runner.WithConversationID(opts.ConversationID),
		runner.WithUser(opts.UserID, opts.UserName),
		runner.WithBotID(opts.Config.BotID),
		runner.WithLocale(opts.Config.Locale),
		runner.WithJoin(!opts.NoJoin),
		runner.WithFailureMessage(opts.Config.FailureMessage),
	)
	if !opts.Quiet && !opts.JSON {
		printSystemMessage(opts.Out, "Conversation '%s' started. Type 'exit' to leave.", r.ConversationID)
	}

	g, gctx := errgroup.WithContext(sc)
	chatCtx, endChat := context.WithCancel(gctx)
	if rt.OAuth != nil {
		srv := &http.Server{
			Addr:              opts.Config.Addr,
			Handler:           callbackMux(opts.Config.OAuth.CallbackPath, rt.OAuth.CallbackHandler()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error { return serveUntil(chatCtx, srv, logger) })
	}
	g.Go(func() error {
		defer endChat()
		return r.Run(chatCtx, rt.Engine)
	})
	err = g.Wait()
	endChat()

	if sig := sc.Signal(); sig != nil && !opts.Quiet && !opts.JSON {
		printSystemMessage(opts.Out, "Interrupted (%s).", sig)
	}
	return err
}

func callbackMux(path string, h http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, h)
	return mux
}

// serveUntil runs srv until ctx is done, then shuts it down gracefully.
func serveUntil(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	logger.Info("listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown did not complete", "err", err)
		return srv.Close()
	}
	logger.Info("server stopped")
	return nil
}
