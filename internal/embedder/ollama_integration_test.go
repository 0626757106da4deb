//go:build integration

package embedder

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestQwenEmbedder_Integration calls a running Qwen3 embedding service.
//
// Run with:
//
//	EMBEDDING_ENDPOINT=http://gpu-box:8001/embed \
//	  go test -tags=integration -run TestQwenEmbedder_Integration ./internal/embedder/
func TestQwenEmbedder_Integration(t *testing.T) {
	endpoint := os.Getenv("EMBEDDING_ENDPOINT")
	if endpoint == "" {
		endpoint = DefaultQwenEndpoint
	}

	cfg := DefaultQwenConfig()
	cfg.Endpoint = endpoint
	emb, err := NewQwenEmbedder(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	texts := []string{
		"Febrile seizures occur in children between 6 months and 5 years of age.",
		"Oral rehydration solution is first-line therapy for mild dehydration.",
	}
	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("Embed() failed against %s: %v", endpoint, err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d embeddings, got %d", len(texts), len(vecs))
	}
	for i, v := range vecs {
		if len(v) != cfg.Dimensions {
			t.Errorf("embedding[%d]: dim=%d, want %d", i, len(v), cfg.Dimensions)
		}
	}
}

// TestOllamaEmbedder_Integration calls a local Ollama instance.
//
//	ollama pull nomic-embed-text
//	go test -tags=integration -run TestOllamaEmbedder_Integration ./internal/embedder/
func TestOllamaEmbedder_Integration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = defaultOllamaModel
	}

	emb := NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	vecs, err := emb.Embed(ctx, []string{"neonatal jaundice", "otitis media"})
	if err != nil {
		t.Fatalf("Embed() failed: %v\n\nEnsure Ollama is running and %q is pulled", err, model)
	}
	if len(vecs) != 2 || len(vecs[0]) == 0 {
		t.Fatalf("unexpected embeddings: %d vectors", len(vecs))
	}
	t.Logf("model=%s dim=%d (set EMBEDDING_DIMENSIONS=%d)", model, len(vecs[0]), len(vecs[0]))
}
