package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"

	"github.com/54b3r/medqa-go/internal/logging"
)

// NewAskCmd constructs the `medqa ask` command, which answers one question
// and streams the answer to stdout.
func NewAskCmd() *cobra.Command {
	var topK int
	var noContext bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single pediatrics question",
		Long: `Answer one question using passages retrieved from the ingested textbooks.

The answer is streamed as it is generated, followed by the passages it was
based on. --no-context skips retrieval and sends the question straight to
the chat model, which is handy for checking the model endpoint.

Examples:
  medqa ask "what are the common causes of febrile seizures in toddlers?"
  medqa ask --top-k 8 "how is Kawasaki disease diagnosed?"
  medqa ask --no-context "hello"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			topK = flagOrEnvInt(cmd, "top-k", "RAG_TOP_K", topK)
			question := strings.Join(args, " ")
			out := cmd.OutOrStdout()

			flush := setupTracing(log)
			defer flush()

			if noContext {
				m, _, err := buildChatModel(ctx, log)
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				sr, err := m.Stream(ctx, []*schema.Message{schema.UserMessage(question)})
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				defer sr.Close()
				for {
					msg, err := sr.Recv()
					if errors.Is(err, io.EOF) {
						break
					}
					if err != nil {
						return fmt.Errorf("ask: stream: %w", err)
					}
					fmt.Fprint(out, msg.Content)
				}
				fmt.Fprintln(out)
				return nil
			}

			c, _, vs, err := buildChain(ctx, log, topK)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer vs.Close()

			res, err := c.Stream(ctx, nil, question, out)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Fprintln(out)
			if len(res.Sources) > 0 {
				fmt.Fprintln(out, "\nSources:")
				for i, d := range res.Sources {
					fmt.Fprintf(out, "  [%d] %s p.%d (score %.3f)\n", i+1, d.Source, d.Page, d.Score)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "Number of passages given to the model")
	cmd.Flags().BoolVar(&noContext, "no-context", false, "Skip retrieval and query the chat model directly")
	cmd.SetOut(os.Stdout)

	return cmd
}
