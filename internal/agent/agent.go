// Package agent generates assistant replies for the development backend.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/citizen-assistant/internal/config"
	"github.com/comigor/citizen-assistant/internal/llm"
	"github.com/comigor/citizen-assistant/internal/logger"
)

const defaultSystemPrompt = "You are the city services assistant. Answer questions about permits, payments, appointments and public services accurately and concisely. If you are not sure, say so and point the citizen to the office that can help."

// DefaultMaxHistory bounds how many prior turns are sent to the LLM.
const DefaultMaxHistory = 20

// ErrNoChoices is returned when the LLM answers without any choice.
var ErrNoChoices = errors.New("LLM returned no choices")

// Turn is one prior message of a session.
type Turn struct {
	Role    string
	Content string
}

// Agent is the main agent struct
type Agent struct {
	llmClient    llm.Client
	cfg          config.LLMConfig
	systemPrompt string
	maxHistory   int
}

func New(llmClient llm.Client, cfg config.LLMConfig) *Agent {
	prompt := defaultSystemPrompt
	if cfg.SystemPrompt != "" {
		prompt = cfg.SystemPrompt // User-configured prompt overrides default
	}
	return &Agent{
		llmClient:    llmClient,
		cfg:          cfg,
		systemPrompt: prompt,
		maxHistory:   DefaultMaxHistory,
	}
}

// Process answers request given the prior turns of the session. Only the
// most recent turns are forwarded.
func (a *Agent) Process(ctx context.Context, history []Turn, request string) (string, error) {
	if len(history) > a.maxHistory {
		history = history[len(history)-a.maxHistory:]
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: a.systemPrompt})
	for _, t := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: request})

	llmResp, err := a.llmClient.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    a.cfg.Model,
		Messages: messages,
	})
	if err != nil {
		logger.L.Error("LLM call failed", "error", err)
		return "", fmt.Errorf("llm call: %w", err)
	}
	if len(llmResp.Choices) == 0 {
		return "", ErrNoChoices
	}
	logger.L.Debug("LLM response received", "finish_reason", llmResp.Choices[0].FinishReason)
	return llmResp.Choices[0].Message.Content, nil
}
