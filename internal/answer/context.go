// Package answer implements the retrieval-augmented answer engine: it ranks
// cached notes against a query, assembles a size-bounded context from the top
// matches, and routes generation through the backend pool with blocking and
// streaming entry points.
package answer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kestrelnotes/kestrel-go/internal/budget"
	"github.com/kestrelnotes/kestrel-go/internal/search"
)

const (
	// contextNotes is the number of top-ranked documents assembled into the
	// generation context.
	contextNotes = 5

	// blockSeparator joins note blocks inside the context.
	blockSeparator = "\n\n"

	// windowRadius is the number of characters kept on each side of a query
	// token occurrence when extracting excerpt windows.
	windowRadius = 100

	// ellipsis marks cut points and joins between disjoint windows.
	ellipsis = "…"

	// formatChatLog and formatDatabaseRow are the hint labels annotated on
	// excerpts whose content shape is detected. The hint measurably improves
	// answer quality for structured exports.
	formatChatLog     = "chat log"
	formatDatabaseRow = "database row"
)

// chatLineRE matches a timestamp-plus-speaker line, the shape of exported
// chat transcripts: an optional bracketed time followed by a speaker name
// and a colon.
var chatLineRE = regexp.MustCompile(`^\s*\[?\d{1,2}:\d{2}(?::\d{2})?(?:\s*[AP]M)?\]?\s+[\w@.-]+\s*:`)

// dbRowRE matches a "Key: value" line, the shape of exported database rows.
var dbRowRE = regexp.MustCompile(`^\s*[A-Za-z][A-Za-z0-9 _-]{0,39}:\s`)

// promptTemplate embeds the assembled context and the user question. The
// closing instruction pins the literal Sources line the UI parses.
const promptTemplate = `You are an assistant answering questions about the user's personal notes.
Answer using ONLY the notes below. If the notes do not contain the answer,
say so plainly. If the question is ambiguous, ask one clarifying question
instead of guessing.

Notes:
%s

Question: %s

End your answer with a line reading "Sources: " followed by the titles of the
notes you used, comma-separated. If you used none, end with "Sources: none".`

// BuildPrompt assembles the full generation prompt for query from the
// top-ranked documents.
func BuildPrompt(query string, ranked []search.ScoredDocument, tokens []string) string {
	return fmt.Sprintf(promptTemplate, BuildContext(ranked, tokens), query)
}

// BuildContext renders up to contextNotes ranked documents as note blocks,
// trimmed to the total context budget.
func BuildContext(ranked []search.ScoredDocument, tokens []string) string {
	if len(ranked) > contextNotes {
		ranked = ranked[:contextNotes]
	}

	blocks := make([]string, 0, len(ranked))
	for i, sd := range ranked {
		blocks = append(blocks, noteBlock(i+1, sd, tokens))
	}
	blocks = budget.TrimBlocks(blocks, blockSeparator, budget.ContextChars)
	return strings.Join(blocks, blockSeparator)
}

// noteBlock renders one document as a block of labelled lines. The Format
// hint line appears only when a content shape is detected.
func noteBlock(n int, sd search.ScoredDocument, tokens []string) string {
	doc := sd.Document
	folder := doc.Folder
	if folder == "" {
		folder = "Unknown folder"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Note %d\n", n)
	fmt.Fprintf(&sb, "Title: %s\n", doc.Title)
	fmt.Fprintf(&sb, "Folder: %s\n", folder)
	if format := detectFormat(doc.Content); format != "" {
		fmt.Fprintf(&sb, "Format: %s\n", format)
	}
	fmt.Fprintf(&sb, "Content: %s", excerpt(doc.Content, tokens, budget.NoteExcerptChars))
	return sb.String()
}

// detectFormat classifies content whose non-empty lines are majority
// timestamp+speaker shaped as a chat log, or majority "Key: value" shaped as
// a database row. Chat wins when both match since its pattern is stricter.
func detectFormat(content string) string {
	var total, chat, dbRow int
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		total++
		switch {
		case chatLineRE.MatchString(line):
			chat++
		case dbRowRE.MatchString(line):
			dbRow++
		}
	}
	if total == 0 {
		return ""
	}
	if chat*2 > total {
		return formatChatLog
	}
	if dbRow*2 > total {
		return formatDatabaseRow
	}
	return ""
}

// window is a half-open byte interval inside the content, always aligned to
// rune boundaries.
type window struct{ start, end int }

// runeCut backs idx off to the nearest rune boundary at or below it so byte
// slicing never splits a multi-byte rune.
func runeCut(s string, idx int) int {
	for idx > 0 && idx < len(s) && !utf8.RuneStart(s[idx]) {
		idx--
	}
	return idx
}

// excerpt extracts up to maxChars of content centred on query token
// occurrences. Disjoint windows are joined with an ellipsis break; cut edges
// gain an ellipsis marker. Content without any token occurrence falls back
// to a head excerpt.
func excerpt(content string, tokens []string, maxChars int) string {
	content = strings.TrimSpace(content)
	if len(content) <= maxChars {
		return content
	}

	windows := tokenWindows(content, tokens)
	if len(windows) == 0 {
		return content[:runeCut(content, maxChars)] + ellipsis
	}

	joiner := " " + ellipsis + " "
	lastEnd := windows[0].end
	var sb strings.Builder
	for _, w := range windows {
		part := content[w.start:w.end]
		need := len(part)
		if sb.Len() > 0 {
			need += len(joiner)
		}
		if sb.Len()+need > maxChars {
			break
		}
		if sb.Len() > 0 {
			sb.WriteString(joiner)
		}
		sb.WriteString(part)
		lastEnd = w.end
	}
	if sb.Len() == 0 {
		// The first window alone exceeded the budget; cut it.
		w := windows[0]
		lastEnd = w.start + maxChars
		if lastEnd > w.end {
			lastEnd = w.end
		}
		lastEnd = runeCut(content, lastEnd)
		sb.WriteString(content[w.start:lastEnd])
	}

	out := sb.String()
	if windows[0].start > 0 {
		out = ellipsis + out
	}
	if lastEnd < len(content) {
		out += ellipsis
	}
	return out
}

// tokenWindows locates the first occurrence of each token and returns the
// merged surrounding windows in content order.
func tokenWindows(content string, tokens []string) []window {
	lower := strings.ToLower(content)

	var windows []window
	for _, tok := range tokens {
		idx := strings.Index(lower, tok)
		if idx < 0 {
			continue
		}
		start := idx - windowRadius
		if start < 0 {
			start = 0
		}
		end := idx + len(tok) + windowRadius
		if end > len(content) {
			end = len(content)
		}
		windows = append(windows, window{start: runeCut(content, start), end: runeCut(content, end)})
	}
	if len(windows) == 0 {
		return nil
	}

	sort.Slice(windows, func(i, j int) bool { return windows[i].start < windows[j].start })

	merged := windows[:1]
	for _, w := range windows[1:] {
		last := &merged[len(merged)-1]
		if w.start <= last.end {
			if w.end > last.end {
				last.end = w.end
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}
