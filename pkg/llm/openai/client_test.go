package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/llm"
	"github.com/oceanbase/recall-go/pkg/llm/openai"
)

func TestCompleteSendsSystemPromptAndReportsUsage(t *testing.T) {
	var received struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		MaxTokens int `json:"max_tokens"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "deepseek-chat",
			"choices": []map[string]interface{}{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "insight"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	}))
	defer server.Close()

	client, err := openai.NewClient(&openai.Config{Provider: "deepseek", APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	c, err := client.Complete(context.Background(), "summarize", "be terse", llm.WithMaxTokens(50))
	require.NoError(t, err)
	assert.Equal(t, "insight", c.Text)
	assert.Equal(t, 15, c.TokensUsed())

	assert.Equal(t, "deepseek-chat", received.Model)
	require.Len(t, received.Messages, 2)
	assert.Equal(t, "system", received.Messages[0].Role)
	assert.Equal(t, "be terse", received.Messages[0].Content)
	assert.Equal(t, "summarize", received.Messages[1].Content)
	assert.Equal(t, 50, received.MaxTokens)
}

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	_, err := openai.NewClient(&openai.Config{Provider: "mystery"})
	assert.Error(t, err)
}
