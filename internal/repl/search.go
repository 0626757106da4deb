package repl

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/54b3r/medqa-go/internal/rag"
)

// Search results are cut to this many runes.
const searchPreviewRunes = 300

// SearchLoop is the retrieval-only loop used to sanity-check an ingested
// collection without calling the chat model.
type SearchLoop struct {
	// Retriever embeds the query and searches the store.
	Retriever rag.Retriever

	// TopK is the number of fragments printed per query.
	TopK int

	// Plain disables terminal styling.
	Plain bool
}

// Run prompts for queries until "exit", EOF or ctx cancellation.
func (s *SearchLoop) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	if s.Retriever == nil {
		return fmt.Errorf("repl: Retriever must not be nil")
	}
	st := newStyles(s.Plain)
	fmt.Fprintln(out, st.banner("medqa retrieval check"))
	fmt.Fprintln(out, st.meta("Enter a query to list the closest fragments, or 'exit' to quit."))
	fmt.Fprintln(out)

	sc := newScanner(in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(out, st.prompt("Query: "))
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return fmt.Errorf("repl: read input: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}
		query := strings.TrimSpace(sc.Text())
		if strings.EqualFold(query, "exit") {
			return nil
		}
		if query == "" {
			continue
		}
		if err := s.Search(ctx, query, out); err != nil {
			fmt.Fprintln(out, st.err("search failed: "+err.Error()))
			fmt.Fprintln(out)
		}
	}
}

// Search runs one query and prints the matching fragments.
func (s *SearchLoop) Search(ctx context.Context, query string, out io.Writer) error {
	docs, err := s.Retriever.Retrieve(ctx, query, s.TopK)
	if err != nil {
		return err
	}
	st := newStyles(s.Plain)
	if len(docs) == 0 {
		fmt.Fprintln(out, "no matching fragments")
		fmt.Fprintln(out)
		return nil
	}
	fmt.Fprintln(out, st.heading(fmt.Sprintf("Top %d fragments for %q:", len(docs), query)))
	for i, d := range docs {
		fmt.Fprintln(out, st.meta(fmt.Sprintf("[%d] page %s | %s | score %.3f", i+1, pageLabel(d), sourceLabel(d), d.Score)))
		fmt.Fprintln(out, truncate(d.Content, searchPreviewRunes))
		fmt.Fprintln(out)
	}
	return nil
}
