package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/embedder/openai"
)

func TestEmbedBatchKeepsInputOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 1, "embedding": []float64{0, 1}},
				{"object": "embedding", "index": 0, "embedding": []float64{1, 0}},
			},
		})
	}))
	defer server.Close()

	client, err := openai.NewClient(&openai.Config{APIKey: "test", BaseURL: server.URL, Dimensions: 2})
	require.NoError(t, err)

	vectors, err := client.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float64{1, 0}, vectors[0])
	assert.Equal(t, []float64{0, 1}, vectors[1])
	assert.Equal(t, 2, client.Dimensions())
}

func TestEmbedPropagatesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer server.Close()

	client, err := openai.NewClient(&openai.Config{APIKey: "test", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "x")
	assert.Error(t, err)
}
