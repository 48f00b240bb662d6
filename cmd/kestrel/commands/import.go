package commands

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kestrelnotes/kestrel-go/internal/corpus"
)

// importExtensions lists the file extensions treated as notes.
var importExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
}

// NewImportCmd constructs the `kestrel import` command, which walks a
// directory of text and markdown files and loads them into the note cache.
func NewImportCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "import [directory]",
		Short: "Import a directory of text or markdown notes into the cache",
		Long: `Walk a directory recursively and load every .md, .markdown, and .txt
file into the local note cache. The file name (without extension) becomes
the note title and the first directory level below the root becomes its
folder. Re-importing the same directory updates existing notes in place.

Examples:
  kestrel import ~/notes
  kestrel import --source obsidian ~/vault`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			root, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("import: resolve %s: %w", args[0], err)
			}

			store, err := openCorpus()
			if err != nil {
				return err
			}
			defer store.Close()

			imported := 0
			walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() || !importExtensions[strings.ToLower(filepath.Ext(path))] {
					return nil
				}

				doc, err := documentFromFile(root, path, source)
				if err != nil {
					return err
				}
				if err := store.Put(ctx, doc); err != nil {
					return err
				}
				imported++
				return nil
			})
			if walkErr != nil {
				return fmt.Errorf("import: %w", walkErr)
			}

			total, err := store.Count(ctx)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			fmt.Printf("Imported %d notes (%d total in cache).\n", imported, total)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "files", "Source label stored on imported notes")

	return cmd
}

// documentFromFile reads path and maps it onto a corpus document. The note ID
// is derived from the source label and the root-relative path so re-imports
// are stable.
func documentFromFile(root, path, source string) (corpus.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return corpus.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return corpus.Document{}, fmt.Errorf("stat %s: %w", path, err)
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}

	sum := sha256.Sum256([]byte(source + ":" + rel))
	base := filepath.Base(rel)
	title := strings.TrimSuffix(base, filepath.Ext(base))

	folder := ""
	if dir := filepath.Dir(rel); dir != "." {
		// First directory level below the import root.
		folder = strings.SplitN(filepath.ToSlash(dir), "/", 2)[0]
	}

	return corpus.Document{
		ID:         hex.EncodeToString(sum[:8]),
		Title:      title,
		Content:    string(data),
		Source:     source,
		SourceID:   rel,
		Folder:     folder,
		ModifiedAt: info.ModTime(),
	}, nil
}
