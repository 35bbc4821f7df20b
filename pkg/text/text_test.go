package text_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/recall-go/pkg/text"
)

func TestTokenizeAndTerms(t *testing.T) {
	assert.Equal(t, []string{"user", "prefers", "dark", "mode", "v2"}, text.Tokenize("User prefers dark-mode (v2)!"))
	assert.Equal(t, []string{"user", "prefer", "dark", "mode"}, text.Terms("Does the user prefer the dark mode?"))
}

func TestQuotedPhrases(t *testing.T) {
	assert.Equal(t, []string{"dark mode", "vim keys"}, text.QuotedPhrases(`find "dark mode" and 'vim keys' now`))
	assert.Nil(t, text.QuotedPhrases("no quotes here, it's fine"))
}

func TestCapitalizedRuns(t *testing.T) {
	assert.Equal(t, []string{"Alice Smith", "Berlin", "Acme Corp"},
		text.CapitalizedRuns("The trip: Alice Smith moved to Berlin, then joined Acme Corp."))
	assert.Empty(t, text.CapitalizedRuns("all lower case words"))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, text.EstimateTokens(""))
	assert.Equal(t, 3, text.EstimateTokens("hello world"))
	assert.Equal(t, 25, text.EstimateTokens(string(make([]byte, 100))))
}
