// Package text holds the lexical helpers shared by retrieval and extraction:
// tokenization, stopwords, quoted phrases and capitalized entity runs.
package text

import (
	"regexp"
	"strings"
	"unicode"
)

// Tokenize splits s into lower-cased letter/digit runs.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an and are as at be been but by can could did do does for from
		had has have he her his how i if in into is it its me my no not of on or our she so than that
		the their them then there these they this to up us was we were what when where which who why
		will with would you your about after all also am any because before between both each few
		more most other over same some such through under very just does doing should`) {
		stopwords[w] = struct{}{}
	}
}

// IsStopword reports whether the lower-cased token carries no retrieval signal.
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

// Terms returns the tokens of s that are not stopwords, in order.
func Terms(s string) []string {
	tokens := Tokenize(s)
	out := tokens[:0]
	for _, t := range tokens {
		if !IsStopword(t) {
			out = append(out, t)
		}
	}
	return out
}

var quotedPattern = regexp.MustCompile(`"([^"]+)"|'([^']{2,})'`)

// QuotedPhrases returns the trimmed contents of double or single quoted spans.
func QuotedPhrases(s string) []string {
	var out []string
	for _, m := range quotedPattern.FindAllStringSubmatch(s, -1) {
		phrase := m[1]
		if phrase == "" {
			phrase = m[2]
		}
		if phrase = strings.TrimSpace(phrase); phrase != "" {
			out = append(out, phrase)
		}
	}
	return out
}

// CapitalizedRuns returns runs of consecutive capitalized words, e.g.
// "Alice Smith" or "Berlin". A capitalized stopword at the start of a
// sentence does not start a run.
func CapitalizedRuns(s string) []string {
	var (
		out []string
		run []string
	)
	flush := func() {
		if len(run) > 0 {
			out = append(out, strings.Join(run, " "))
			run = run[:0]
		}
	}

	for _, field := range strings.Fields(s) {
		word := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if word == "" {
			flush()
			continue
		}
		first := []rune(word)[0]
		if unicode.IsUpper(first) && !(len(run) == 0 && IsStopword(strings.ToLower(word))) {
			run = append(run, word)
		} else {
			flush()
		}
		// Punctuation after a word ends the run.
		if last := field[len(field)-1]; last == ',' || last == '.' || last == ';' || last == ':' || last == '!' || last == '?' {
			flush()
		}
	}
	flush()
	return out
}

// EstimateTokens approximates the LLM token count of s: the larger of one
// token per four bytes and 1.3 tokens per word.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	byChars := (len(s) + 3) / 4
	byWords := (len(strings.Fields(s))*13 + 9) / 10
	if byWords > byChars {
		return byWords
	}
	return byChars
}
