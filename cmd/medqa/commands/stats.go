package commands

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/54b3r/medqa-go/internal/logging"
)

// NewStatsCmd constructs the `medqa stats` command, which prints the number
// of stored chunks and the catalogued sources.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show how many chunks are stored and which PDFs were ingested",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			vs, collection, err := openVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer vs.Close()

			n, err := vs.Count(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			fmt.Fprintf(os.Stdout, "collection %s: %d chunks\n", collection, n)

			catalog := openCatalog(log)
			if catalog == nil {
				return nil
			}
			defer catalog.Close()

			entries, err := catalog.List(ctx, collection)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			if len(entries) == 0 {
				fmt.Fprintln(os.Stdout, "no catalogued sources")
				return nil
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("SOURCE", "PAGES", "CHUNKS", "INGESTED")
			for _, e := range entries {
				t.Row(e.Source, strconv.Itoa(e.Pages), strconv.Itoa(e.Chunks), e.IngestedAt.Local().Format(time.DateTime))
			}
			fmt.Fprintln(os.Stdout, t.Render())
			return nil
		},
	}
}
