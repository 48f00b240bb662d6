package answer

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/kestrelnotes/kestrel-go/internal/corpus"
	"github.com/kestrelnotes/kestrel-go/internal/provider"
	"github.com/kestrelnotes/kestrel-go/internal/search"
)

const (
	// AIAnswerID is the synthetic result ID carrying the generated answer.
	AIAnswerID = "ai-answer"

	// maxAnswerTokens caps the backend's answer length.
	maxAnswerTokens = 1024

	// snippetChars caps the per-result snippet returned to callers.
	snippetChars = 200
)

// SearchResult is one ranked hit returned by the engine. The synthetic
// AI-answer entry, when present, is always first.
type SearchResult struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Content string  `json:"content,omitempty"`
	Folder  string  `json:"folder,omitempty"`
	Score   float64 `json:"score"`
}

// Generator produces answers from an assembled prompt. It is satisfied by
// *provider.Manager.
type Generator interface {
	Generate(ctx context.Context, req *provider.Request) *provider.Response
	GenerateStream(ctx context.Context, req *provider.Request, onChunk func(chunk string)) *provider.Response
	ActiveDisplayName() string
}

// Engine ranks the cached corpus against queries and augments the ranked
// results with a generated answer.
type Engine struct {
	corpus corpus.Accessor
	gen    Generator
	log    *slog.Logger

	emptyOnce sync.Once
}

// NewEngine wires an engine over the given corpus and generation pool.
func NewEngine(c corpus.Accessor, gen Generator, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{corpus: c, gen: gen, log: log}
}

// SearchLocal ranks the corpus against query without invoking generation.
func (e *Engine) SearchLocal(ctx context.Context, query string) ([]SearchResult, error) {
	_, results, _, err := e.rank(ctx, query)
	return results, err
}

// Search ranks the corpus and prepends a generated answer when a backend
// produces one. Generation failure never suppresses the local results.
func (e *Engine) Search(ctx context.Context, query string) ([]SearchResult, error) {
	ranked, results, tokens, err := e.rank(ctx, query)
	if err != nil || len(results) == 0 {
		return results, err
	}

	resp := e.gen.Generate(ctx, &provider.Request{
		Prompt:    BuildPrompt(query, ranked, tokens),
		MaxTokens: maxAnswerTokens,
	})
	return e.prepend(results, resp), nil
}

// SearchWithStream behaves like Search but forwards generated chunks to
// onChunk as they arrive. The returned AI-answer content is the final text
// assembled by the backend, not a concatenation performed here.
func (e *Engine) SearchWithStream(ctx context.Context, query string, onChunk func(chunk string)) ([]SearchResult, error) {
	ranked, results, tokens, err := e.rank(ctx, query)
	if err != nil || len(results) == 0 {
		return results, err
	}

	resp := e.gen.GenerateStream(ctx, &provider.Request{
		Prompt:    BuildPrompt(query, ranked, tokens),
		MaxTokens: maxAnswerTokens,
	}, onChunk)
	return e.prepend(results, resp), nil
}

// rank loads the corpus and scores it against query. An empty corpus is
// logged once per engine instance and yields an empty, non-nil slice.
func (e *Engine) rank(ctx context.Context, query string) ([]search.ScoredDocument, []SearchResult, []string, error) {
	docs, err := e.corpus.All(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(docs) == 0 {
		e.emptyOnce.Do(func() {
			e.log.Warn("corpus is empty; run import before searching")
		})
		return nil, []SearchResult{}, nil, nil
	}

	tokens := search.Tokenize(query)
	ranked := search.Rank(docs, tokens, query)

	results := make([]SearchResult, 0, len(ranked))
	for _, sd := range ranked {
		results = append(results, SearchResult{
			ID:      sd.Document.ID,
			Title:   sd.Document.Title,
			Snippet: excerpt(sd.Document.Content, tokens, snippetChars),
			Folder:  sd.Document.Folder,
			Score:   sd.Score,
		})
	}
	return ranked, results, tokens, nil
}

// prepend places the generated answer, when non-empty, ahead of the local
// results as a synthetic entry.
func (e *Engine) prepend(results []SearchResult, resp *provider.Response) []SearchResult {
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return results
	}

	title := "AI Answer"
	if name := e.gen.ActiveDisplayName(); name != "" {
		title = "AI Answer (" + name + ")"
	}
	ai := SearchResult{
		ID:      AIAnswerID,
		Title:   title,
		Snippet: truncate(resp.Text, snippetChars),
		Content: resp.Text,
		Score:   1,
	}
	return append([]SearchResult{ai}, results...)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:runeCut(s, max)] + ellipsis
}
