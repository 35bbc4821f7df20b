package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/llm"
)

func TestApplyGenerateOptions(t *testing.T) {
	opts := llm.ApplyGenerateOptions(nil)
	assert.Equal(t, 0.7, opts.Temperature)
	assert.Equal(t, 1000, opts.MaxTokens)
	assert.Equal(t, 1.0, opts.TopP)

	opts = llm.ApplyGenerateOptions([]llm.GenerateOption{
		llm.WithTemperature(0.1),
		llm.WithMaxTokens(64),
		llm.WithTopP(0.9),
		llm.WithStop("\n\n"),
	})
	assert.Equal(t, 0.1, opts.Temperature)
	assert.Equal(t, 64, opts.MaxTokens)
	assert.Equal(t, 0.9, opts.TopP)
	assert.Equal(t, []string{"\n\n"}, opts.Stop)
}

func TestExtractJSON(t *testing.T) {
	var out struct {
		Importance float64 `json:"importance"`
	}
	require.NoError(t, llm.ExtractJSON("Sure! ```json\n{\"importance\": 0.8}\n```", &out))
	assert.Equal(t, 0.8, out.Importance)

	assert.Error(t, llm.ExtractJSON("no json here", &out))
}

func TestCompletionTokensUsed(t *testing.T) {
	c := &llm.Completion{PromptTokens: 10, CompletionTokens: 5}
	assert.Equal(t, 15, c.TokensUsed())
}
