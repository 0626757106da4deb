package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/54b3r/medqa-go/internal/chain"
	"github.com/54b3r/medqa-go/internal/logging"
)

// DefaultMaxSources is the number of reference passages printed per answer.
const DefaultMaxSources = 3

// Reference passages are cut to this many runes.
const sourcePreviewRunes = 200

// Answerer is the part of *chain.Chain the conversation loop needs.
type Answerer interface {
	Invoke(ctx context.Context, mem *chain.Memory, question string) (*chain.Result, error)
}

// Conversation is the interactive QA loop.
type Conversation struct {
	// Chain answers each question.
	Chain Answerer

	// Memory holds the running history; Run creates one when nil.
	Memory *chain.Memory

	// MaxSources caps the printed reference passages (default 3).
	MaxSources int

	// Plain disables terminal styling.
	Plain bool
}

// Run reads questions from in until "exit", EOF or ctx cancellation and
// writes answers to out. Chain errors are printed and the loop continues.
func (c *Conversation) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	if c.Chain == nil {
		return fmt.Errorf("repl: Chain must not be nil")
	}
	if c.Memory == nil {
		c.Memory = chain.NewMemory(0)
	}
	maxSources := c.MaxSources
	if maxSources <= 0 {
		maxSources = DefaultMaxSources
	}
	st := newStyles(c.Plain)
	log := logging.FromContext(ctx)

	fmt.Fprintln(out, st.banner("medqa conversational assistant"))
	fmt.Fprintln(out, st.meta("Ask a question, type 'clear' to reset the conversation or 'exit' to quit."))
	fmt.Fprintln(out)

	sc := newScanner(in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(out, st.prompt("You: "))
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return fmt.Errorf("repl: read input: %w", err)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Conversation ended. Goodbye!")
			return nil
		}
		line := strings.TrimSpace(sc.Text())

		switch {
		case strings.EqualFold(line, "exit"):
			fmt.Fprintln(out, "Conversation ended. Goodbye!")
			return nil
		case strings.EqualFold(line, "clear"):
			c.Memory.Clear()
			fmt.Fprintln(out, "Conversation history cleared, ask a new question.")
			fmt.Fprintln(out)
			continue
		case line == "":
			fmt.Fprintln(out, "please enter a valid question")
			fmt.Fprintln(out)
			continue
		}

		res, err := c.Chain.Invoke(ctx, c.Memory, line)
		if err != nil {
			log.Warn("repl: chain invocation failed", slog.String("error", err.Error()))
			fmt.Fprintln(out, st.err("failed to generate answer: "+err.Error()))
			fmt.Fprintln(out)
			continue
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, st.answer("Assistant: "+res.Answer))
		fmt.Fprintln(out)

		sources := res.Sources
		if len(sources) > maxSources {
			sources = sources[:maxSources]
		}
		if len(sources) == 0 {
			continue
		}
		fmt.Fprintln(out, st.heading(fmt.Sprintf("Reference passages (top %d):", len(sources))))
		for i, d := range sources {
			fmt.Fprintln(out, st.meta(fmt.Sprintf("  [%d] source: %s | page: %s", i+1, sourceLabel(d), pageLabel(d))))
			fmt.Fprintf(out, "  content: %s\n\n", truncate(d.Content, sourcePreviewRunes))
		}
	}
}

// newScanner returns a line scanner that tolerates long pasted questions.
func newScanner(in io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return sc
}
