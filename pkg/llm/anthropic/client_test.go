package anthropic_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/llm/anthropic"
)

func TestCompleteJoinsTextBlocks(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":            "msg_1",
			"type":          "message",
			"role":          "assistant",
			"model":         anthropic.DefaultModel,
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content": []map[string]string{
				{"type": "text", "text": "Users "},
				{"type": "text", "text": "prefer dark mode."},
			},
			"usage": map[string]int{"input_tokens": 20, "output_tokens": 6},
		})
	}))
	defer server.Close()

	client, err := anthropic.NewClient(&anthropic.Config{APIKey: "k", BaseURL: server.URL, MaxRetries: 1})
	require.NoError(t, err)

	c, err := client.Complete(context.Background(), "cluster", "you reflect")
	require.NoError(t, err)
	assert.Equal(t, "Users prefer dark mode.", c.Text)
	assert.Equal(t, 20, c.PromptTokens)
	assert.Equal(t, 6, c.CompletionTokens)
	assert.Equal(t, anthropic.DefaultModel, received["model"])
	assert.NotNil(t, received["system"])
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := anthropic.NewClient(&anthropic.Config{})
	assert.Error(t, err)
}
