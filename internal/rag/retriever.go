package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyQuery is returned by Retrieve when the query is blank.
var ErrEmptyQuery = errors.New("rag: query must not be empty")

// DefaultRetriever implements the Retriever interface by combining an Embedder
// and a VectorStore. It embeds the query at retrieval time and delegates
// similarity search to the store.
type DefaultRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int

	// scoreThreshold drops results scoring below it. Zero disables filtering.
	scoreThreshold float32
}

// RetrieverOption customises a DefaultRetriever.
type RetrieverOption func(*DefaultRetriever)

// WithScoreThreshold drops results whose similarity score is below min.
func WithScoreThreshold(min float32) RetrieverOption {
	return func(r *DefaultRetriever) { r.scoreThreshold = min }
}

// NewRetriever constructs a DefaultRetriever from the given Embedder and VectorStore.
// defaultTopK sets the fallback result count when Retrieve is called with topK=0.
func NewRetriever(embedder Embedder, store VectorStore, defaultTopK int, opts ...RetrieverOption) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = 3
	}
	r := &DefaultRetriever{
		embedder:    embedder,
		store:       store,
		defaultTopK: defaultTopK,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve embeds the query and returns the top-k most relevant documents.
// If topK is 0 the defaultTopK configured at construction time is used.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Document, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = r.defaultTopK
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	docs, err := r.store.Search(ctx, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	if r.scoreThreshold > 0 {
		kept := docs[:0]
		for _, d := range docs {
			if d.Score >= r.scoreThreshold {
				kept = append(kept, d)
			}
		}
		docs = kept
	}

	return docs, nil
}
