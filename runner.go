package parley

import (
	"context"
	"io"

	"github.com/aretw0/parley/pkg/runner"
)

// Chat runs a local text conversation with the engine over in and out until the input
// ends or the user types "exit". Options tune the runner (conversation id, user, join).
func (e *Engine) Chat(ctx context.Context, in io.Reader, out io.Writer, opts ...runner.Option) error {
	opts = append([]runner.Option{
		runner.WithLogger(e.logger),
		runner.WithInputHandler(runner.NewTextHandler(in, out)),
	}, opts...)
	return runner.NewRunner(opts...).Run(ctx, e)
}
