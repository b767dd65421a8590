package widget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/citizen-assistant/internal/assistant"
	"github.com/comigor/citizen-assistant/internal/config"
)

type flags map[string]bool

func (f flags) Enabled(flag string) bool { return f[flag] }

type stubTransport struct {
	reply string
}

func (s stubTransport) Send(ctx context.Context, req assistant.Request) (assistant.Reply, error) {
	return assistant.Reply{Text: s.reply}, nil
}

func (s stubTransport) Probe(ctx context.Context) error { return nil }

func TestMount_DisabledDoesNothing(t *testing.T) {
	called := false
	factory := func() (assistant.Transport, error) {
		called = true
		return stubTransport{}, nil
	}

	w, err := Mount(flags{}, config.DefaultAssistant(), factory)
	require.NoError(t, err)
	require.Nil(t, w)
	require.False(t, called, "no transport is built for a disabled widget")

	var cfg *config.Config
	w, err = Mount(cfg, config.DefaultAssistant(), factory)
	require.NoError(t, err)
	require.Nil(t, w)

	require.Nil(t, w.Render())
	w.Open()
	w.Unmount()
}

func TestMount_PropagatesErrors(t *testing.T) {
	bad := config.DefaultAssistant()
	bad.Endpoint = ""
	_, err := Mount(flags{config.FeatureAssistant: true}, bad, func() (assistant.Transport, error) { return stubTransport{}, nil })
	require.Error(t, err)

	_, err = Mount(flags{config.FeatureAssistant: true}, config.DefaultAssistant(), func() (assistant.Transport, error) {
		return nil, errors.New("no endpoint")
	})
	require.ErrorContains(t, err, "no endpoint")
}

func TestWidget_EndToEnd(t *testing.T) {
	w, err := Mount(flags{config.FeatureAssistant: true}, config.DefaultAssistant(), func() (assistant.Transport, error) {
		return stubTransport{reply: "Office hours are 9 to 5."}, nil
	})
	require.NoError(t, err)
	require.NotNil(t, w)
	t.Cleanup(w.Unmount)

	require.NotNil(t, w.Render().ByTestID(TestIDLauncher))

	w.Open()
	require.NoError(t, w.Conversation.SendMessage(context.Background(), "When are you open?"))
	require.Eventually(t, func() bool {
		return len(w.Conversation.Snapshot().Messages) == 2
	}, 2*time.Second, 5*time.Millisecond)

	root := w.Render()
	require.Len(t, root.ByTestID(TestIDMessages).Children, 2)
	require.Eventually(t, func() bool {
		return w.Announcer.Region().Text == "Assistant: Office hours are 9 to 5."
	}, 2*time.Second, 5*time.Millisecond)

	w.Minimize()
	root = w.Render()
	require.Nil(t, root.ByTestID(TestIDMessages))
	require.Equal(t, "Assistant: Office hours are 9 to 5.", root.ByID(w.Announcer.Region().ID).Text)

	w.Hide()
	require.NotNil(t, w.Render().ByTestID(TestIDLauncher))
}
