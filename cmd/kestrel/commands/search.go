package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewSearchCmd constructs the `kestrel search` command: local ranking only,
// no generation backend is contacted.
func NewSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Search your cached notes without asking a backend",
		Long: `Rank your cached notes against a query and print the matches.

No generation backend is contacted; this is a purely local operation.

Examples:
  kestrel search "alpha launch date"
  kestrel search "wifi password"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := buildRuntime(ctx, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			results, err := rt.Engine.SearchLocal(ctx, strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if len(results) == 0 {
				fmt.Println("No matching notes.")
				return nil
			}

			for i, res := range results {
				folder := res.Folder
				if folder == "" {
					folder = "Unknown folder"
				}
				fmt.Printf("%2d. %s  (%s, score %.2f)\n", i+1, res.Title, folder, res.Score)
				if res.Snippet != "" {
					fmt.Printf("    %s\n", res.Snippet)
				}
			}
			return nil
		},
	}
}
