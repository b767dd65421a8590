package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/citizen-assistant/internal/config"
)

func TestNewClient_UsesBaseURL(t *testing.T) {
	var path, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "hello"}}},
		})
	}))
	defer srv.Close()

	var c Client = NewClient(config.LLMConfig{BaseURL: srv.URL + "/v1", APIKey: "k"})
	resp, err := c.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "test",
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Choices[0].Message.Content)
	require.Equal(t, "/v1/chat/completions", path)
	require.Equal(t, "Bearer k", auth)
}
