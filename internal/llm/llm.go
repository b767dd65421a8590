// Package llm wraps the OpenAI-compatible chat completion client used by the
// development backend.
package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/citizen-assistant/internal/config"
)

// Client is the part of openai.Client the reply generator calls. Tests pass a
// hand-written mock.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

var _ Client = (*openai.Client)(nil)

// NewClient creates a new OpenAI client. BaseURL points it at any
// OpenAI-compatible server; empty keeps the library default.
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return openai.NewClientWithConfig(config)
}
