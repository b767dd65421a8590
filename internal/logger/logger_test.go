package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/citizen-assistant/internal/config"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	SetLevel("DEBUG")
	require.True(t, L.Enabled(context.Background(), slog.LevelDebug))

	SetLevel("error")
	require.False(t, L.Enabled(context.Background(), slog.LevelWarn))

	SetLevel("bogus")
	require.Equal(t, slog.LevelInfo, levelVar.Level())
}

func TestInit_WritesRotatedFile(t *testing.T) {
	prev := L
	t.Cleanup(func() {
		L = prev
		slog.SetDefault(prev)
		SetLevel("info")
	})

	path := filepath.Join(t.TempDir(), "assistant.log")
	closer := Init(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1})
	L.Info("hello", "component", "test")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"hello"`)
}

func TestInit_NoFile(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })
	closer := Init(config.LogConfig{Level: "warn"})
	require.NoError(t, closer.Close())
	require.Equal(t, slog.LevelWarn, levelVar.Level())
}
