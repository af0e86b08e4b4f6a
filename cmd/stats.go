package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"ragstore/internal/vectorstore"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many chunks the vector store holds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}

		switch store := rt.store.(type) {
		case *vectorstore.ElasticsearchStore:
			count, err := store.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Backend:   elasticsearch\nIndex:     %s\nDimension: %d\nChunks:    %d\n",
				store.IndexName(), store.Dimension(), count)
		case *vectorstore.PersistentStore:
			fmt.Fprintf(out, "Backend:   memory\nData dir:  %s\nChunks:    %d\n", store.GetDataDir(), store.Count())
		default:
			return fmt.Errorf("unsupported store %T", store)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
