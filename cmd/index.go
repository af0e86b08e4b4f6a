package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"ragstore/internal/document"
	"ragstore/internal/rag"
	"ragstore/internal/vectorstore"
)

var indexCmd = &cobra.Command{
	Use:   "index [file/directory]",
	Short: "Index documents for retrieval",
	Long: `Index documents by chunking them, generating embeddings, and storing them in the vector store.

Chunkers:
- paragraph: split on blank lines (default)
- window: fixed-size overlapping windows
- lines: fixed number of lines (useful for code)

Examples:
  ragstore index ./docs --recursive
  ragstore index notes.md --meta category=a
  ragstore index main.go --chunker lines --backend elasticsearch`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)

	indexCmd.Flags().BoolP("recursive", "r", false, "Recursively index directories")
	indexCmd.Flags().StringSliceP("extensions", "e", []string{".txt", ".md", ".go", ".py", ".js"}, "File extensions to index")
	indexCmd.Flags().String("chunker", "paragraph", "Chunking strategy: paragraph, window or lines")
	indexCmd.Flags().IntP("chunk-size", "c", 500, "Maximum chunk size in bytes for the window chunker")
	indexCmd.Flags().IntP("chunk-overlap", "o", 50, "Overlap between windows")
	indexCmd.Flags().Int("lines", 40, "Lines per chunk for the lines chunker")
	indexCmd.Flags().StringArrayP("meta", "m", nil, "Metadata key=value added to every chunk (repeatable)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := args[0]
	recursive, _ := cmd.Flags().GetBool("recursive")
	extensions, _ := cmd.Flags().GetStringSlice("extensions")
	chunkerName, _ := cmd.Flags().GetString("chunker")
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	chunkOverlap, _ := cmd.Flags().GetInt("chunk-overlap")
	lines, _ := cmd.Flags().GetInt("lines")
	metaPairs, _ := cmd.Flags().GetStringArray("meta")

	chunker, err := selectChunker(chunkerName, chunkSize, chunkOverlap, lines)
	if err != nil {
		return err
	}
	meta, err := parsePairs(metaPairs)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	ingester := rag.NewIngester(chunker, rt.embedder, rt.store, rt.log)

	files, err := getFilesToProcess(path, recursive, extensions)
	if err != nil {
		return fmt.Errorf("failed to get files: %w", err)
	}
	fmt.Fprintf(out, "Found %d files to index\n", len(files))

	stored, failed := 0, 0
	for i, file := range files {
		fmt.Fprintf(out, "Processing [%d/%d] %s\n", i+1, len(files), file)

		doc, err := document.LoadFromFile(file)
		if err != nil {
			fmt.Fprintf(out, "  failed to load: %v\n", err)
			failed++
			continue
		}

		results, err := ingester.Ingest(ctx, doc, meta)
		for _, r := range results {
			if r.Err == nil {
				stored++
			}
		}
		switch {
		case errors.Is(err, rag.ErrNoChunks):
			fmt.Fprintf(out, "  skipped: no content\n")
		case errors.Is(err, vectorstore.ErrInvalidDocument):
			// Nothing from this file was written; later files may still be fine.
			fmt.Fprintf(out, "  rejected: %v\n", err)
			failed++
		case err != nil:
			return fmt.Errorf("failed to index %s: %w", file, err)
		default:
			fmt.Fprintf(out, "  stored %d chunks\n", len(results))
		}
	}

	fmt.Fprintf(out, "\nIndexing complete: %d chunks stored, %d files failed\n", stored, failed)
	return nil
}

func selectChunker(name string, chunkSize, overlap, lines int) (document.Chunker, error) {
	switch name {
	case "paragraph", "":
		return document.ChunkParagraphs, nil
	case "window":
		return document.WindowChunker(chunkSize, overlap), nil
	case "lines":
		return document.ChunkByLines(lines), nil
	default:
		return nil, fmt.Errorf("unknown chunker %q", name)
	}
}

func getFilesToProcess(path string, recursive bool, extensions []string) ([]string, error) {
	var files []string

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		if hasValidExtension(path, extensions) {
			files = append(files, path)
		}
		return files, nil
	}

	if recursive {
		err = filepath.WalkDir(path, func(filePath string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && hasValidExtension(filePath, extensions) {
				files = append(files, filePath)
			}
			return nil
		})
		return files, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		filePath := filepath.Join(path, entry.Name())
		if hasValidExtension(filePath, extensions) {
			files = append(files, filePath)
		}
	}
	return files, nil
}

func hasValidExtension(filename string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, validExt := range extensions {
		if ext == strings.ToLower(validExt) {
			return true
		}
	}
	return false
}
