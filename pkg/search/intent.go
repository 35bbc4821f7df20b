package search

import (
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/text"
)

// Intent is a signal found in the query text.
type Intent string

const (
	// IntentExact: the query quotes a phrase.
	IntentExact Intent = "exact"

	// IntentKeyword: the query is a handful of keywords.
	IntentKeyword Intent = "keyword"

	// IntentRelational: the query asks how things are connected.
	IntentRelational Intent = "relational"

	// IntentSemantic: the query is a long natural-language question.
	IntentSemantic Intent = "semantic"
)

// Classification is the result of ClassifyQuery.
type Classification struct {
	Intents []Intent

	// Weights are the default weights shifted toward the detected intents, summing to 1.
	Weights Weights
}

const (
	keywordMaxTerms  = 3
	semanticMinTerms = 8
	intentBoost      = 0.2
	strongBoost      = 0.3
)

var relationalWords = map[string]struct{}{
	"related": {}, "relation": {}, "relationship": {}, "relationships": {},
	"between": {}, "connected": {}, "connection": {}, "connections": {},
	"linked": {}, "link": {}, "associated": {}, "knows": {}, "know": {},
	"friend": {}, "friends": {}, "colleague": {}, "colleagues": {},
	"depends": {}, "dependency": {}, "involving": {}, "involves": {},
}

// ClassifyQuery derives strategy weights from the shape of the query. It is
// deterministic and makes no external calls:
//   - a quoted phrase boosts fulltext
//   - three or fewer content terms boost sparse
//   - relational wording boosts graph
//   - eight or more content terms boost vector
func ClassifyQuery(q string) Classification {
	w := DefaultWeights()
	var intents []Intent

	if len(text.QuotedPhrases(q)) > 0 {
		w[model.StrategyFullText] += strongBoost
		intents = append(intents, IntentExact)
	}

	terms := text.Terms(q)
	if n := len(terms); n > 0 && n <= keywordMaxTerms {
		w[model.StrategySparse] += intentBoost
		intents = append(intents, IntentKeyword)
	}

	for _, t := range text.Tokenize(q) {
		if _, ok := relationalWords[t]; ok {
			w[model.StrategyGraph] += strongBoost
			intents = append(intents, IntentRelational)
			break
		}
	}

	if len(terms) >= semanticMinTerms {
		w[model.StrategyVector] += intentBoost
		intents = append(intents, IntentSemantic)
	}

	return Classification{Intents: intents, Weights: w.Normalized(model.StrategyNames)}
}
