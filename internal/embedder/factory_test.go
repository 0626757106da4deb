package embedder

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func Test_DefaultDimensions(t *testing.T) {
	tests := []struct {
		backend string
		env     string
		want    int
	}{
		{backend: "qwen", want: 1024},
		{backend: "ollama", want: 768},
		{backend: "openai", want: 1536},
		{backend: "azure", want: 1536},
		{backend: "gemini", want: 768},
		{backend: "qwen", env: "2048", want: 2048},
	}
	for _, tc := range tests {
		t.Run(tc.backend+"/"+tc.env, func(t *testing.T) {
			t.Setenv("EMBEDDING_DIMENSIONS", tc.env)
			if got := DefaultDimensions(tc.backend); got != tc.want {
				t.Errorf("DefaultDimensions(%q) = %d, want %d", tc.backend, got, tc.want)
			}
		})
	}
}

func Test_NewFromEnv_DefaultsToQwen(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "")
	t.Setenv("EMBEDDING_ENDPOINT", "http://gpu:8001/embed")
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	t.Setenv("EMBEDDING_NORMALIZE", "false")
	t.Setenv("EMBEDDING_BATCH_SIZE", "8")

	emb, err := NewFromEnv(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q, ok := emb.(*QwenEmbedder)
	if !ok {
		t.Fatalf("want *QwenEmbedder, got %T", emb)
	}
	if q.endpoint != "http://gpu:8001/embed" || q.normalize || q.batchSize != 8 || q.dims != 1024 {
		t.Errorf("unexpected config: %+v", q)
	}
}

func Test_NewFromEnv_MissingCredentials(t *testing.T) {
	tests := []struct {
		backend string
		unset   []string
	}{
		{backend: "openai", unset: []string{"EMBEDDING_API_KEY", "OPENAI_API_KEY"}},
		{backend: "azure", unset: []string{"EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY"}},
		{backend: "gemini", unset: []string{"EMBEDDING_API_KEY", "GOOGLE_API_KEY"}},
		{backend: "bogus"},
	}
	for _, tc := range tests {
		t.Run(tc.backend, func(t *testing.T) {
			t.Setenv("EMBEDDING_PROVIDER", tc.backend)
			for _, k := range tc.unset {
				t.Setenv(k, "")
			}
			if _, err := NewFromEnv(context.Background()); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func Test_NewFromEnv_AzureRouting(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotKey = r.Header.Get("api-key")
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1,2],"index":0}]}`))
	}))
	defer srv.Close()

	t.Setenv("EMBEDDING_PROVIDER", "azure")
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("AZURE_OPENAI_API_KEY", "az-key")
	t.Setenv("EMBEDDING_ENDPOINT", srv.URL+"/")
	t.Setenv("EMBEDDING_MODEL", "embed-deploy")
	t.Setenv("AZURE_OPENAI_API_VERSION", "2024-10-21")

	emb, err := NewFromEnv(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := emb.Embed(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if gotPath != "/openai/deployments/embed-deploy/embeddings?api-version=2024-10-21" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotKey != "az-key" {
		t.Errorf("api-key header: want az-key, got %q", gotKey)
	}
}

func Test_ValidateForRAG(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		wantLog bool
	}{
		{name: "qwen default ok", env: map[string]string{"EMBEDDING_PROVIDER": "", "EMBEDDING_ENDPOINT": ""}},
		{name: "qwen bad endpoint", env: map[string]string{"EMBEDDING_PROVIDER": "qwen", "EMBEDDING_ENDPOINT": "gpu:8001"}, wantErr: true},
		{name: "openai no key", env: map[string]string{"EMBEDDING_PROVIDER": "openai", "EMBEDDING_API_KEY": "", "OPENAI_API_KEY": ""}, wantErr: true},
		{name: "azure no endpoint", env: map[string]string{"EMBEDDING_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k", "EMBEDDING_ENDPOINT": "", "AZURE_OPENAI_ENDPOINT": ""}, wantErr: true},
		{name: "unknown", env: map[string]string{"EMBEDDING_PROVIDER": "cohere"}, wantErr: true},
		{name: "chat model warns", env: map[string]string{"EMBEDDING_PROVIDER": "ollama", "EMBEDDING_MODEL": "llama3.1:8b"}, wantLog: true},
		{name: "embedding model quiet", env: map[string]string{"EMBEDDING_PROVIDER": "ollama", "EMBEDDING_MODEL": "qwen3-embedding:0.6b"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("EMBEDDING_MODEL", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			var buf bytes.Buffer
			log := slog.New(slog.NewTextHandler(&buf, nil))

			err := ValidateForRAG(log)
			if (err != nil) != tc.wantErr {
				t.Fatalf("wantErr=%v, got %v", tc.wantErr, err)
			}
			if logged := strings.Contains(buf.String(), "looks like a chat model"); logged != tc.wantLog {
				t.Errorf("warning logged=%v, want %v (log: %s)", logged, tc.wantLog, buf.String())
			}
		})
	}
}
