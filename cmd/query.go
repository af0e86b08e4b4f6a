package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ragstore/internal/rag"
	"ragstore/internal/vectorstore"
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Retrieve context for a question and print the prompt",
	Long: `Retrieve the chunks most relevant to a question and build the prompt a
language model would answer from.

Examples:
  ragstore query "What is the document about?"
  ragstore query "How is the index created?" --top-k 5 --filter category=a`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().IntP("top-k", "k", 3, "Number of most relevant chunks to retrieve")
	queryCmd.Flags().StringArrayP("filter", "f", nil, "Metadata filter key=value; repeat a key to match any of several values")
	queryCmd.Flags().StringP("prompt-template", "p", "", "Custom prompt template using {{.Context}} and {{.Question}}")
	queryCmd.Flags().BoolP("show-sources", "s", true, "Show source chunks")

	viper.BindPFlag("top_k", queryCmd.Flags().Lookup("top-k"))
}

func runQuery(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	question := args[0]
	filterPairs, _ := cmd.Flags().GetStringArray("filter")
	promptTemplate, _ := cmd.Flags().GetString("prompt-template")
	showSources, _ := cmd.Flags().GetBool("show-sources")

	filters, err := parsePairs(filterPairs)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}

	retriever := rag.NewRetriever(rt.embedder, rt.store, rt.cfg.TopK)
	pipeline := rag.NewPipeline(rag.NewIngester(nil, rt.embedder, rt.store, rt.log), retriever)
	if promptTemplate != "" {
		pipeline.SetPromptTemplate(promptTemplate)
	}

	prompt, sources, err := pipeline.Prompt(ctx, question, vectorstore.Filters(filters))
	if err != nil {
		return fmt.Errorf("failed to process query: %w", err)
	}

	fmt.Fprintln(out, "Prompt:")
	fmt.Fprintln(out, strings.Repeat("-", 80))
	fmt.Fprintln(out, prompt)
	fmt.Fprintln(out, strings.Repeat("-", 80))

	if showSources {
		printSources(out, sources)
	}
	return nil
}

func printSources(out io.Writer, sources []vectorstore.Document) {
	fmt.Fprintf(out, "\nSources (%d found):\n", len(sources))
	for i, source := range sources {
		fmt.Fprintf(out, "\n[%d] Score: %.3f\n", i+1, source.Score)
		if name, ok := source.Metadata["source"]; ok {
			fmt.Fprintf(out, "Source: %v\n", name)
		}
		if idx, ok := source.Metadata["chunk_index"]; ok {
			fmt.Fprintf(out, "Chunk: %v\n", idx)
		}
		fmt.Fprintf(out, "Content: %s\n", truncateString(source.Text, 200))
	}
}

func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
