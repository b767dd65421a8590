package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/comigor/citizen-assistant/internal/assistant"
	"github.com/comigor/citizen-assistant/internal/config"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", m.Name)
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals
}

func TestMetrics_Observe(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter(ScopeName))
	require.NoError(t, err)

	m.Observe(assistant.Transition{From: assistant.StateIdle, To: assistant.StateSending, Trigger: assistant.TriggerSubmit})
	m.Observe(assistant.Transition{
		From: assistant.StateSending, To: assistant.StateError, Trigger: assistant.TriggerRecoverableFailure,
		Err: &assistant.ChatError{Kind: assistant.KindHTTPStatus, StatusCode: 503},
	})
	m.Observe(assistant.Transition{
		From: assistant.StateSending, To: assistant.StateIdle, Trigger: assistant.TriggerSucceeded,
		Reply: &assistant.Message{ID: 2, Role: assistant.RoleAssistant, Content: "hi"},
	})

	totals := collect(t, reader)
	require.Equal(t, int64(3), totals["assistant.transitions"])
	require.Equal(t, int64(1), totals["assistant.failures"])
	require.Equal(t, int64(1), totals["assistant.replies"])
}

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), "test", config.TelemetryConfig{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInit_WritesToDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "telemetry")
	shutdown, err := Init(context.Background(), "test", config.TelemetryConfig{Enabled: true, Dir: dir})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = os.Stat(dir)
	require.NoError(t, err)
}
