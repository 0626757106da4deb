package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/medqa-go/internal/chain"
	"github.com/54b3r/medqa-go/internal/logging"
	"github.com/54b3r/medqa-go/internal/repl"
)

// NewChatCmd constructs the `medqa chat` command, the interactive
// conversation loop.
func NewChatCmd() *cobra.Command {
	var topK int
	var plain bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive pediatrics conversation",
		Long: `Start a conversation in the terminal. Follow-up questions may refer to
earlier turns; they are rewritten into standalone questions before retrieval.

Type clear to forget the conversation so far, exit to quit.

Examples:
  medqa chat
  medqa chat --top-k 5 --plain`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			flush := setupTracing(log)
			defer flush()

			c, _, vs, err := buildChain(ctx, log, topK)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer vs.Close()

			conv := &repl.Conversation{
				Chain:      c,
				Memory:     chain.NewMemory(getEnvInt("HISTORY_MAX_TOKENS", chain.DefaultHistoryMaxTokens)),
				MaxSources: topK,
				Plain:      plain,
			}
			return conv.Run(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", chain.DefaultTopK, "Number of passages given to the model per question")
	cmd.Flags().BoolVar(&plain, "plain", false, "Disable terminal colours")

	return cmd
}
