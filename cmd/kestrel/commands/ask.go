package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kestrelnotes/kestrel-go/internal/answer"
)

// NewAskCmd constructs the `kestrel ask` command, which ranks the notes and
// asks the active backend to answer from them.
func NewAskCmd() *cobra.Command {
	var stream bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question answered from your notes",
		Long: `Ask a natural language question. Kestrel ranks your cached notes,
builds a context from the best matches, and asks the active generation
backend to answer using only those notes.

When the backend pool is exhausted the local matches are still printed.

Examples:
  kestrel ask "when is the alpha launch?"
  kestrel ask --stream "summarise my meeting notes from last week"
  KESTREL_PROVIDER=ollama kestrel ask "what was the wifi password?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := buildRuntime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			query := strings.Join(args, " ")

			var results []answer.SearchResult
			if stream {
				results, err = rt.Engine.SearchWithStream(ctx, query, func(chunk string) {
					fmt.Print(chunk)
				})
				fmt.Println()
			} else {
				results, err = rt.Engine.Search(ctx, query)
			}
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			printAnswer(results, stream)
			return nil
		},
	}

	cmd.Flags().BoolVar(&stream, "stream", false, "Stream the answer as it is generated")

	return cmd
}

// printAnswer renders the result list. The answer body is skipped in stream
// mode since it has already been written chunk by chunk.
func printAnswer(results []answer.SearchResult, streamed bool) {
	if len(results) == 0 {
		fmt.Println("No matching notes.")
		return
	}

	rest := results
	if results[0].ID == answer.AIAnswerID {
		if !streamed {
			fmt.Println(results[0].Content)
			fmt.Println()
		}
		rest = results[1:]
	} else {
		fmt.Fprintln(os.Stderr, "No backend produced an answer; showing local matches only.")
	}

	if len(rest) == 0 {
		return
	}
	fmt.Println("Matching notes:")
	for i, res := range rest {
		fmt.Printf("%2d. %s  (score %.2f)\n", i+1, res.Title, res.Score)
	}
}
