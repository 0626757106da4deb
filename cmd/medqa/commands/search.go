package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/medqa-go/internal/logging"
	"github.com/54b3r/medqa-go/internal/repl"
)

// NewSearchCmd constructs the `medqa search` command: retrieval only, no
// generation. Useful for checking what the chat model would be shown.
func NewSearchCmd() *cobra.Command {
	var topK int
	var plain bool

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the vector store for passages matching a query",
		Long: `Embed a query and print the most similar passages with their page and score.

With no query argument an interactive loop starts; type exit to quit.

Examples:
  medqa search "neonatal jaundice phototherapy threshold"
  medqa search --top-k 10
  medqa search`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			topK = flagOrEnvInt(cmd, "top-k", "RAG_TOP_K", topK)

			retriever, vs, err := buildRetriever(ctx, log, topK)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer vs.Close()

			loop := &repl.SearchLoop{Retriever: retriever, TopK: topK, Plain: plain}
			if len(args) > 0 {
				return loop.Search(ctx, strings.Join(args, " "), os.Stdout)
			}
			return loop.Run(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "Number of passages to return")
	cmd.Flags().BoolVar(&plain, "plain", false, "Disable terminal colours")

	return cmd
}
