// Package repl implements the interactive terminal loops: the conversational
// QA loop behind `medqa chat` and the retrieval-only loop behind
// `medqa search`. User-facing text goes to the supplied writer; diagnostics
// go to the context logger.
package repl

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/54b3r/medqa-go/internal/rag"
)

// styles renders the few decorated elements of the loops.
type styles struct {
	banner  func(...string) string
	prompt  func(...string) string
	answer  func(...string) string
	heading func(...string) string
	meta    func(...string) string
	err     func(...string) string
}

func newStyles(plain bool) styles {
	if plain {
		id := func(s ...string) string { return strings.Join(s, " ") }
		return styles{banner: id, prompt: id, answer: id, heading: id, meta: id, err: id}
	}
	return styles{
		banner:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Render,
		prompt:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")).Render,
		answer:  lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Render,
		heading: lipgloss.NewStyle().Underline(true).Render,
		meta:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render,
		err:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render,
	}
}

// truncate returns the first n runes of s, appending "..." when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// pageLabel renders a page number, or "unknown" when it was not recorded.
func pageLabel(d rag.Document) string {
	if d.Page <= 0 {
		return "unknown"
	}
	return strconv.Itoa(d.Page)
}

// sourceLabel renders the document source, or "unknown" when empty.
func sourceLabel(d rag.Document) string {
	if d.Source == "" {
		return "unknown"
	}
	return d.Source
}
