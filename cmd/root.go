package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ragstore/internal/config"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ragstore",
	Short: "ragstore - vector store for retrieval-augmented generation",
	Long: `ragstore indexes text documents into a vector store and retrieves the chunks
most relevant to a question, ready to be handed to a language model.

Backends:
- elasticsearch: dense_vector index ranked by cosine similarity
- memory: local JSON snapshot, returns the first k chunks (for demos)`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.Init(viper.GetViper(), cfgFile)
	},
}

// ExecuteContext adds all child commands to the root command and runs it with ctx.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ragstore.yaml)")
	flags.String("backend", "memory", "vector store backend: elasticsearch or memory")
	flags.String("es-url", "http://localhost:9200", "Elasticsearch base URL")
	flags.String("index", "documents", "Elasticsearch index name")
	flags.Int("embedding-dim", 768, "embedding dimension")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	viper.BindPFlag("store.backend", flags.Lookup("backend"))
	viper.BindPFlag("store.elasticsearch.url", flags.Lookup("es-url"))
	viper.BindPFlag("store.elasticsearch.index", flags.Lookup("index"))
	viper.BindPFlag("embedding_dim", flags.Lookup("embedding-dim"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
}
