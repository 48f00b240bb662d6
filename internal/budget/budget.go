// Package budget provides size budgeting for generation prompts. Because the
// engine routes across multiple LLM backends with different tokenizers, it
// uses a conservative character-based heuristic: 1 token ≈ 4 characters.
// Context assembly itself works in characters; Estimate is used only to
// derive token caps for generation requests.
package budget

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English prose.
	charsPerToken = 4

	// NoteExcerptChars is the per-note excerpt budget inside an assembled
	// context block.
	NoteExcerptChars = 800

	// ContextChars is the total character budget for the assembled context
	// sent alongside a generation request.
	ContextChars = 8000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// TrimBlocks drops trailing blocks until the joined size (blocks plus
// separators) fits within maxChars. Blocks arrive ordered by descending
// relevance, so the least relevant notes are dropped first. At least one
// block is always kept so the prompt never loses its best match entirely.
func TrimBlocks(blocks []string, sep string, maxChars int) []string {
	if len(blocks) == 0 {
		return blocks
	}
	for len(blocks) > 1 {
		total := 0
		for i, b := range blocks {
			if i > 0 {
				total += len(sep)
			}
			total += len(b)
		}
		if total <= maxChars {
			break
		}
		blocks = blocks[:len(blocks)-1]
	}
	return blocks
}
