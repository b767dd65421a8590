package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FeatureAssistant gates the whole assistant subsystem.
const FeatureAssistant = "assistant"

// Config holds the application configuration
type Config struct {
	LLM         LLMConfig         `mapstructure:"llm"`
	Server      ServerConfig      `mapstructure:"server"`
	Assistant   AssistantConfig   `mapstructure:"assistant"`
	Features    map[string]bool   `mapstructure:"features"`
	Log         LogConfig         `mapstructure:"log"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// LLMConfig holds the LLM configuration used by the development backend
type LLMConfig struct {
	Provider     string `mapstructure:"provider"`
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// ServerConfig holds the development backend listen address
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// AssistantConfig holds the assistant client settings.
type AssistantConfig struct {
	// Endpoint is the full URL of the POST /chat endpoint.
	Endpoint          string        `mapstructure:"endpoint"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	ProbeInterval     time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	ExcerptLimit      int           `mapstructure:"excerpt_limit"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
}

// LogConfig controls the global logger
type LogConfig struct {
	Level string `mapstructure:"level"`
	// File, when set, receives a rotated copy of every log line.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// DiagnosticsConfig controls the developer-facing failure log
type DiagnosticsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// TelemetryConfig controls OpenTelemetry traces and metrics. Both are written
// as JSON to rotated files under Dir.
type TelemetryConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Dir             string        `mapstructure:"dir"`
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
}

// DefaultAssistant returns the assistant settings used when nothing is configured.
func DefaultAssistant() AssistantConfig {
	return AssistantConfig{
		Endpoint:          "http://localhost:8080/chat",
		RequestTimeout:    15 * time.Second,
		MaxRetries:        2,
		BackoffInitial:    500 * time.Millisecond,
		BackoffMax:        4 * time.Second,
		BackoffMultiplier: 2,
		ProbeInterval:     5 * time.Second,
		ProbeTimeout:      3 * time.Second,
		ExcerptLimit:      200,
		MaxBodyBytes:      1 << 20,
	}
}

func setDefaults(v *viper.Viper) {
	a := DefaultAssistant()
	v.SetDefault("assistant.endpoint", a.Endpoint)
	v.SetDefault("assistant.request_timeout", a.RequestTimeout)
	v.SetDefault("assistant.max_retries", a.MaxRetries)
	v.SetDefault("assistant.backoff_initial", a.BackoffInitial)
	v.SetDefault("assistant.backoff_max", a.BackoffMax)
	v.SetDefault("assistant.backoff_multiplier", a.BackoffMultiplier)
	v.SetDefault("assistant.probe_interval", a.ProbeInterval)
	v.SetDefault("assistant.probe_timeout", a.ProbeTimeout)
	v.SetDefault("assistant.excerpt_limit", a.ExcerptLimit)
	v.SetDefault("assistant.max_body_bytes", a.MaxBodyBytes)

	v.SetDefault("features."+FeatureAssistant, true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("diagnostics.enabled", true)
	v.SetDefault("diagnostics.db_path", "diagnostics.db")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dir", "logs")
	v.SetDefault("telemetry.metrics_interval", 10*time.Second)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.system_prompt", "")
}

// Load loads the configuration from config.yaml (or the file named by
// CONFIG_PATH), applying defaults and CITIZEN_* environment overrides.
// A missing config.yaml is not an error; a missing CONFIG_PATH file is.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CITIZEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks that the assistant settings are usable.
func (c *Config) Validate() error {
	return c.Assistant.Validate()
}

// Validate checks that the assistant settings are usable.
func (a AssistantConfig) Validate() error {
	if a.Endpoint == "" {
		return errors.New("assistant.endpoint cannot be empty")
	}
	if a.RequestTimeout <= 0 {
		return errors.New("assistant.request_timeout must be > 0")
	}
	if a.MaxRetries < 0 {
		return errors.New("assistant.max_retries must be >= 0")
	}
	if a.BackoffInitial <= 0 || a.BackoffMax < a.BackoffInitial {
		return fmt.Errorf("assistant backoff must satisfy 0 < initial (%s) <= max (%s)", a.BackoffInitial, a.BackoffMax)
	}
	if a.BackoffMultiplier < 1 {
		return errors.New("assistant.backoff_multiplier must be >= 1")
	}
	if a.ProbeInterval <= 0 || a.ProbeTimeout <= 0 {
		return errors.New("assistant probe interval and timeout must be > 0")
	}
	if a.ExcerptLimit <= 0 {
		return errors.New("assistant.excerpt_limit must be > 0")
	}
	return nil
}

// Enabled reports whether a feature flag is on. Unknown flags are off.
func (c *Config) Enabled(flag string) bool {
	if c == nil {
		return false
	}
	return c.Features[strings.ToLower(flag)]
}
