package diagnostics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/citizen-assistant/internal/assistant"
)

func TestStore_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(filepath.Join(t.TempDir(), "diag.db"))
	t.Cleanup(func() { _ = s.Close() })

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.Record(ctx, assistant.Diagnostic{SessionToken: "tok-a", MessageID: 3, Kind: assistant.KindHTTPStatus, StatusCode: 500, Excerpt: "<html>", Attempt: 1, At: at})
	s.Record(ctx, assistant.Diagnostic{SessionToken: "tok-b", MessageID: 1, Kind: assistant.KindMalformedResponse, StatusCode: 200, Attempt: 1})
	s.Record(ctx, assistant.Diagnostic{SessionToken: "tok-a", MessageID: 3, Kind: assistant.KindNetworkTimeout, Attempt: 2, At: at.Add(time.Second)})

	require.True(t, s.ready(), "sqlite should be available in a temp dir")

	got := s.List(ctx, "tok-a")
	require.Len(t, got, 2)
	require.Equal(t, assistant.KindHTTPStatus, got[0].Kind)
	require.Equal(t, 500, got[0].StatusCode)
	require.Equal(t, uint64(3), got[0].MessageID)
	require.True(t, got[0].CreatedAt.Equal(at))
	require.Equal(t, assistant.KindNetworkTimeout, got[1].Kind)
	require.Equal(t, 2, got[1].Attempt)

	require.Len(t, s.List(ctx, "tok-b"), 1)
	require.Empty(t, s.List(ctx, "tok-c"))
}

func TestStore_FallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	s := New(filepath.Join(t.TempDir(), "missing-dir", "nested", "diag.db"))
	t.Cleanup(func() { _ = s.Close() })

	s.Record(ctx, assistant.Diagnostic{SessionToken: "tok", MessageID: 9, Kind: assistant.KindSessionInvalid, StatusCode: 401})

	require.False(t, s.ready())
	got := s.List(ctx, "tok")
	require.Len(t, got, 1)
	require.Equal(t, assistant.KindSessionInvalid, got[0].Kind)
	require.False(t, got[0].CreatedAt.IsZero())
}
