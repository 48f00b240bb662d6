// Package search implements keyword retrieval over the cached note corpus:
// query tokenization, relevance scoring, and ranked result selection.
// Scoring is a deliberate linear scan with fixed weights — the corpus is
// bounded and in-memory, so no inverted index is maintained.
package search

import "strings"

// stopWords are common query fillers that carry no retrieval signal.
// The list is frozen; the scoring examples in the test suite depend on it.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "but": true, "by": true, "can": true,
	"could": true, "did": true, "do": true, "does": true, "for": true,
	"from": true, "had": true, "has": true, "have": true, "how": true,
	"in": true, "is": true, "it": true, "its": true, "me": true,
	"my": true, "of": true, "on": true, "or": true, "our": true,
	"should": true, "that": true, "the": true, "this": true, "to": true,
	"was": true, "we": true, "were": true, "what": true, "when": true,
	"where": true, "which": true, "who": true, "will": true, "with": true,
	"would": true, "you": true, "your": true,
}

// Tokenize lowercases the query, splits on whitespace, and drops single
// character tokens and stop words. An empty result signals callers to use
// the raw substring fallback instead.
func Tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 1 || stopWords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
