package ingestion

import (
	"path"
	"strings"
)

// InferredMetadata holds the corpus label, title and document kind inferred
// from a PDF's file name. CLI flags take precedence over inferred values.
type InferredMetadata struct {
	// Corpus groups related sources (pediatrics, pumpkin-book, ...).
	Corpus string
	// Title is a human-readable name derived from the file name.
	Title string
	// DocType classifies the source (textbook, study-guide, notes).
	DocType string
}

// corpusAliases maps file-name fragments to a canonical corpus label.
var corpusAliases = []struct {
	fragment string
	corpus   string
}{
	{"pediatric", "pediatrics"},
	{"paediatric", "pediatrics"},
	{"儿科", "pediatrics"},
	{"pumpkin", "pumpkin-book"},
	{"南瓜", "pumpkin-book"},
	{"neonat", "neonatology"},
}

// docTypeHints maps file-name fragments to a document kind, checked in order.
var docTypeHints = []struct {
	fragment string
	docType  string
}{
	{"notes", "notes"},
	{"lecture", "notes"},
	{"笔记", "notes"},
	{"guide", "study-guide"},
	{"review", "study-guide"},
	{"pumpkin", "study-guide"},
	{"南瓜", "study-guide"},
}

// genericDirs are parent directory names that say nothing about the corpus.
var genericDirs = map[string]bool{
	"": true, ".": true, "/": true, "data": true, "pdf": true, "pdfs": true, "docs": true,
}

// InferMetadata inspects a local path or s3:// URI and returns best-effort
// metadata. Unknown names get corpus "general" (or the parent directory
// name) and doc type "textbook".
func InferMetadata(src string) InferredMetadata {
	p := strings.TrimPrefix(src, s3Scheme)
	p = strings.ReplaceAll(p, "\\", "/")
	base := path.Base(p)
	stem := strings.TrimSuffix(base, path.Ext(base))
	lower := strings.ToLower(stem)

	m := InferredMetadata{
		Corpus:  "general",
		Title:   titleFromStem(stem),
		DocType: "textbook",
	}

	if dir := strings.ToLower(path.Base(path.Dir(p))); !genericDirs[dir] && dir != strings.ToLower(base) {
		m.Corpus = dir
	}
	for _, a := range corpusAliases {
		if strings.Contains(lower, a.fragment) {
			m.Corpus = a.corpus
			break
		}
	}
	for _, h := range docTypeHints {
		if strings.Contains(lower, h.fragment) {
			m.DocType = h.docType
			break
		}
	}
	return m
}

// titleFromStem turns "pediatrics_9th-ed" into "pediatrics 9th ed".
func titleFromStem(stem string) string {
	return strings.Join(strings.FieldsFunc(stem, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	}), " ")
}
