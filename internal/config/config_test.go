package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
llm:
  provider: openai
  base_url: https://api.example.com
  api_key: dummy
  model: gpt-4o
server:
  host: 0.0.0.0
  port: "9090"
assistant:
  endpoint: https://portal.example.gov/chat
  request_timeout: 7s
  max_retries: 4
  backoff_initial: 100ms
  backoff_max: 1s
features:
  assistant: false
  Beta_Forms: true
log:
  level: debug
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	if _, err := tmp.WriteString(body); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmp.Close()
	return tmp.Name()
}

// TestLoad_File verifies that Load unmarshals a YAML file named by CONFIG_PATH.
func TestLoad_File(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleConfig))

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, "gpt-4o", cfg.LLM.Model)
	require.Equal(t, "https://portal.example.gov/chat", cfg.Assistant.Endpoint)
	require.Equal(t, 7*time.Second, cfg.Assistant.RequestTimeout)
	require.Equal(t, 4, cfg.Assistant.MaxRetries)
	require.Equal(t, 100*time.Millisecond, cfg.Assistant.BackoffInitial)
	require.Equal(t, "debug", cfg.Log.Level)

	// values absent from the file keep their defaults
	require.Equal(t, 200, cfg.Assistant.ExcerptLimit)
	require.Equal(t, 5*time.Second, cfg.Assistant.ProbeInterval)

	require.False(t, cfg.Enabled(FeatureAssistant))
	require.True(t, cfg.Enabled("beta_forms"))
	require.False(t, cfg.Enabled("unknown"))
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "log:\n  level: warn\n"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, DefaultAssistant(), cfg.Assistant)
	require.True(t, cfg.Enabled(FeatureAssistant))
	require.True(t, cfg.Diagnostics.Enabled)
	require.False(t, cfg.Telemetry.Enabled)
	require.Equal(t, 10*time.Second, cfg.Telemetry.MetricsInterval)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleConfig))
	t.Setenv("CITIZEN_ASSISTANT_MAX_RETRIES", "1")
	t.Setenv("CITIZEN_FEATURES_ASSISTANT", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Assistant.MaxRetries)
	require.True(t, cfg.Enabled(FeatureAssistant))
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/nonexistent/config.yaml")

	_, err := Load()
	require.Error(t, err)
}

func TestAssistantConfig_Validate(t *testing.T) {
	ok := DefaultAssistant()
	require.NoError(t, ok.Validate())

	cases := map[string]func(*AssistantConfig){
		"empty endpoint":   func(a *AssistantConfig) { a.Endpoint = "" },
		"zero timeout":     func(a *AssistantConfig) { a.RequestTimeout = 0 },
		"negative retries": func(a *AssistantConfig) { a.MaxRetries = -1 },
		"inverted backoff": func(a *AssistantConfig) { a.BackoffMax = a.BackoffInitial / 2 },
		"small multiplier": func(a *AssistantConfig) { a.BackoffMultiplier = 0.5 },
		"zero probe":       func(a *AssistantConfig) { a.ProbeInterval = 0 },
		"zero excerpt":     func(a *AssistantConfig) { a.ExcerptLimit = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			a := DefaultAssistant()
			mutate(&a)
			require.Error(t, a.Validate())
		})
	}
}

func TestEnabled_NilConfig(t *testing.T) {
	var cfg *Config
	require.False(t, cfg.Enabled(FeatureAssistant))
}
