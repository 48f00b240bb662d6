package search

import (
	"sort"
	"strings"

	"github.com/kestrelnotes/kestrel-go/internal/corpus"
)

const (
	// titleWeight, folderWeight, and contentWeight are the per-token match
	// weights. Title and folder matches are privileged over body text; the
	// values are frozen because the documented scoring examples pin them.
	titleWeight   = 3
	folderWeight  = 2
	contentWeight = 1

	// MaxResults caps ranked output.
	MaxResults = 20

	// FallbackScore is assigned to every match on the raw substring path,
	// where no per-token score exists.
	FallbackScore = 0.5
)

// ScoredDocument pairs a document with its relevance score. Score is the
// normalized relative confidence, roughly in [0, 1].
type ScoredDocument struct {
	Document corpus.Document
	Score    float64
}

// Score returns the raw relevance of doc for the given tokens: per token,
// +3 for a title substring match, +2 for a folder match, +1 for a content
// match, summed independently (no deduplication of overlapping matches).
// Always non-negative and non-decreasing in the number of matching tokens.
func Score(doc corpus.Document, tokens []string) int {
	title := strings.ToLower(doc.Title)
	folder := strings.ToLower(doc.Folder)
	content := strings.ToLower(doc.Content)

	total := 0
	for _, tok := range tokens {
		if strings.Contains(title, tok) {
			total += titleWeight
		}
		if strings.Contains(folder, tok) {
			total += folderWeight
		}
		if strings.Contains(content, tok) {
			total += contentWeight
		}
	}
	return total
}

// Rank scores all documents against tokens, drops non-matches, sorts by
// descending score (ties keep corpus order), caps at MaxResults, and
// normalizes each kept score by the theoretical per-query maximum
// (tokens × title weight). With zero tokens it falls back to a raw
// case-insensitive substring scan at a fixed score.
func Rank(docs []corpus.Document, tokens []string, rawQuery string) []ScoredDocument {
	if len(tokens) == 0 {
		return substringFallback(docs, rawQuery)
	}

	scored := make([]ScoredDocument, 0, len(docs))
	for _, doc := range docs {
		s := Score(doc, tokens)
		if s == 0 {
			continue
		}
		scored = append(scored, ScoredDocument{Document: doc, Score: float64(s)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > MaxResults {
		scored = scored[:MaxResults]
	}

	max := float64(len(tokens) * titleWeight)
	for i := range scored {
		scored[i].Score /= max
	}
	return scored
}

// substringFallback handles queries that tokenize to nothing (all stop words
// or a single character): any document whose title, content, or folder
// contains the raw query case-insensitively matches at FallbackScore.
func substringFallback(docs []corpus.Document, rawQuery string) []ScoredDocument {
	needle := strings.ToLower(strings.TrimSpace(rawQuery))
	if needle == "" {
		return nil
	}

	var scored []ScoredDocument
	for _, doc := range docs {
		if strings.Contains(strings.ToLower(doc.Title), needle) ||
			strings.Contains(strings.ToLower(doc.Content), needle) ||
			strings.Contains(strings.ToLower(doc.Folder), needle) {
			scored = append(scored, ScoredDocument{Document: doc, Score: FallbackScore})
			if len(scored) == MaxResults {
				break
			}
		}
	}
	return scored
}
