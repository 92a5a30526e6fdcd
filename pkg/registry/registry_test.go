package registry

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContext struct {
	sent      []string
	signedOut []string
	signErr   error
	props     map[string]any
}

func (f *fakeContext) Turn() domain.ConversationTurn { return domain.ConversationTurn{} }
func (f *fakeContext) Get(path string) any           { return f.props[path] }
func (f *fakeContext) Set(property string, value any) error {
	if f.props == nil {
		f.props = map[string]any{}
	}
	f.props[property] = value
	return nil
}
func (f *fakeContext) Send(text string)     { f.sent = append(f.sent, text) }
func (f *fakeContext) Logger() *slog.Logger { return slog.Default() }
func (f *fakeContext) SignOut(_ context.Context, connection string) error {
	if f.signErr != nil {
		return f.signErr
	}
	f.signedOut = append(f.signedOut, connection)
	return nil
}

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry()
	r.RegisterFunc("count", func(ctx context.Context, dc DialogContext) (Signal, error) {
		return SignalContinue, dc.Set("conversation.count", 1)
	})
	r.Register("done", Complete())

	dc := &fakeContext{}
	sig, err := r.Execute(context.Background(), "count", dc)
	require.NoError(t, err)
	assert.Equal(t, SignalContinue, sig)
	assert.Equal(t, 1, dc.props["conversation.count"])

	sig, err = r.Execute(context.Background(), "done", dc)
	require.NoError(t, err)
	assert.Equal(t, SignalComplete, sig)

	_, err = r.Execute(context.Background(), "missing", dc)
	assert.ErrorIs(t, err, domain.ErrUnknownCommand)

	assert.Equal(t, []string{"count", "done"}, r.Names())
}

func TestSignOutCommand(t *testing.T) {
	dc := &fakeContext{}
	sig, err := SignOut("github", "logged out, yay.").Execute(context.Background(), dc)
	require.NoError(t, err)
	assert.Equal(t, SignalContinue, sig)
	assert.Equal(t, []string{"github"}, dc.signedOut)
	assert.Equal(t, []string{"logged out, yay."}, dc.sent)

	failing := &fakeContext{signErr: errors.New("provider down")}
	_, err = SignOut("github", "bye").Execute(context.Background(), failing)
	require.Error(t, err)
	assert.Empty(t, failing.sent)
}
