package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/cobra"

	"github.com/54b3r/medqa-go/internal/audit"
	"github.com/54b3r/medqa-go/internal/chain"
	"github.com/54b3r/medqa-go/internal/embedder"
	"github.com/54b3r/medqa-go/internal/provider"
	"github.com/54b3r/medqa-go/internal/rag"
	"github.com/54b3r/medqa-go/internal/server"
	"github.com/54b3r/medqa-go/internal/store"
	"github.com/54b3r/medqa-go/internal/tracing"
)

// Vector store backends selectable via VECTOR_STORE.
const (
	backendQdrant   = "qdrant"
	backendPgvector = "pgvector"
)

// defaultCollection names the Qdrant collection and catalog key when
// QDRANT_COLLECTION is unset.
const defaultCollection = "pediatrics"

// defaultPgvectorTable is used when PGVECTOR_TABLE is unset.
const defaultPgvectorTable = "medqa_chunks"

// vectorBackend returns the lower-cased VECTOR_STORE value (default qdrant).
func vectorBackend() (string, error) {
	b := strings.ToLower(getEnvOrDefault("VECTOR_STORE", backendQdrant))
	switch b {
	case backendQdrant, backendPgvector:
		return b, nil
	default:
		return "", fmt.Errorf("unsupported VECTOR_STORE %q (want qdrant or pgvector)", b)
	}
}

// collectionName is the catalog key for the configured vector store.
func collectionName(backend string) string {
	if backend == backendPgvector {
		return getEnvOrDefault("PGVECTOR_TABLE", defaultPgvectorTable)
	}
	return getEnvOrDefault("QDRANT_COLLECTION", defaultCollection)
}

// buildEmbedder validates the embedding settings and constructs the embedder.
// The result retries 408, 429, 5xx and transport failures with backoff.
func buildEmbedder(ctx context.Context, log *slog.Logger) (rag.Embedder, error) {
	if err := embedder.ValidateForRAG(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("provider", embedder.Backend()),
		slog.Int("dimensions", embedder.DefaultDimensions(embedder.Backend())),
	)
	return embedder.NewRetrying(emb, embedder.RetryConfig{}), nil
}

// openVectorStore connects to the backend named by VECTOR_STORE.
func openVectorStore(ctx context.Context, log *slog.Logger) (rag.VectorStore, string, error) {
	backend, err := vectorBackend()
	if err != nil {
		return nil, "", err
	}
	dims := embedder.DefaultDimensions(embedder.Backend())

	switch backend {
	case backendPgvector:
		table := collectionName(backend)
		dsn := os.Getenv("PGVECTOR_DSN")
		vs, err := rag.NewPgvectorStore(ctx, &rag.PgvectorConfig{
			DSN:        dsn,
			Table:      table,
			VectorSize: dims,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to connect to pgvector at %s: %w", audit.Redact("PGVECTOR_DSN", dsn), err)
		}
		log.Info("pgvector store ready",
			slog.String("dsn", audit.Redact("PGVECTOR_DSN", dsn)),
			slog.String("table", table),
		)
		return vs, table, nil
	default:
		host := getEnvOrDefault("QDRANT_HOST", "localhost")
		port := getEnvInt("QDRANT_PORT", 6334)
		collection := collectionName(backend)
		vs, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
			Host:       host,
			Port:       port,
			Collection: collection,
			VectorSize: uint64(dims), //nolint:gosec // dimensions are bounded
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     getEnvBool("QDRANT_TLS", false),
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
		}
		log.Info("qdrant store ready",
			slog.String("host", host),
			slog.Int("port", port),
			slog.String("collection", collection),
		)
		return vs, collection, nil
	}
}

// buildRetriever wires the embedder and vector store into a retriever. The
// caller closes the returned store.
func buildRetriever(ctx context.Context, log *slog.Logger, topK int) (*rag.DefaultRetriever, rag.VectorStore, error) {
	emb, err := buildEmbedder(ctx, log)
	if err != nil {
		return nil, nil, err
	}
	vs, _, err := openVectorStore(ctx, log)
	if err != nil {
		return nil, nil, err
	}

	var opts []rag.RetrieverOption
	if th := getEnvFloat32("RAG_SCORE_THRESHOLD", 0); th > 0 {
		opts = append(opts, rag.WithScoreThreshold(th))
	}
	r, err := rag.NewRetriever(emb, vs, topK, opts...)
	if err != nil {
		_ = vs.Close()
		return nil, nil, err
	}
	return r, vs, nil
}

// buildChatModel constructs the chat model selected by MODEL_PROVIDER.
func buildChatModel(ctx context.Context, log *slog.Logger) (model.BaseChatModel, *provider.Config, error) {
	cfg := provider.ConfigFromEnv()
	m, err := provider.New(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(cfg.Backend)),
		slog.String("model", cfg.ModelName()),
	)
	return m, cfg, nil
}

// buildChain constructs the full conversational chain. The returned store
// must be closed by the caller.
func buildChain(ctx context.Context, log *slog.Logger, topK int) (*chain.Chain, *rag.DefaultRetriever, rag.VectorStore, error) {
	m, _, err := buildChatModel(ctx, log)
	if err != nil {
		return nil, nil, nil, err
	}
	r, vs, err := buildRetriever(ctx, log, topK)
	if err != nil {
		return nil, nil, nil, err
	}
	c, err := chain.New(ctx, &chain.Config{
		Model:     m,
		Retriever: r,
		TopK:      topK,
		Persona:   os.Getenv("CHAIN_PERSONA"),
	})
	if err != nil {
		_ = vs.Close()
		return nil, nil, nil, fmt.Errorf("failed to build chain: %w", err)
	}
	return c, r, vs, nil
}

// openCatalog opens the ingestion catalog named by MEDQA_CATALOG_DB, or the
// default path. It returns nil when the catalog is disabled or cannot be
// opened; the catalog is never required.
func openCatalog(log *slog.Logger) store.Catalog {
	dbPath := os.Getenv("MEDQA_CATALOG_DB")
	if dbPath == store.Disabled {
		log.Info("catalog: disabled via MEDQA_CATALOG_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		if dbPath, err = store.DefaultDBPath(); err != nil {
			log.Warn("catalog: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	c, err := store.Open(dbPath)
	if err != nil {
		log.Warn("catalog: failed to open, disabling", slog.String("path", dbPath), slog.Any("error", err))
		return nil
	}
	log.Debug("catalog: opened", slog.String("path", dbPath))
	return c
}

// setupTracing registers the Langfuse callback handler when configured. The
// returned function flushes pending traces and is always safe to call.
func setupTracing(log *slog.Logger) func() {
	handler, flush, ok := tracing.Setup()
	if !ok {
		log.Debug("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
		return func() {}
	}
	callbacks.AppendGlobalHandlers(handler)
	log.Info("langfuse tracing enabled")
	return flush
}

// buildPingers returns readiness checks for the vector store, the embedding
// endpoint, and the generation endpoint. Hosted APIs are not checked.
func buildPingers(vs rag.VectorStore, providerCfg *provider.Config) []server.Pinger {
	var pingers []server.Pinger

	switch s := vs.(type) {
	case *rag.QdrantStore:
		pingers = append(pingers, server.NewQdrantPinger(s.Client()))
	case *rag.PgvectorStore:
		pingers = append(pingers, server.NewPgvectorPinger(s.Pool()))
	}

	switch embedder.Backend() {
	case "qwen":
		pingers = append(pingers, server.NewHTTPPinger("embedder",
			baseURL(getEnvOrDefault("EMBEDDING_ENDPOINT", embedder.DefaultQwenEndpoint)), nil))
	case "ollama":
		pingers = append(pingers, server.NewHTTPPinger("embedder",
			getEnvOrDefault("EMBEDDING_ENDPOINT", getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")), nil))
	}

	switch providerCfg.Backend {
	case provider.BackendQwen:
		pingers = append(pingers, server.NewHTTPPinger("llm", baseURL(providerCfg.Qwen.URL), nil))
	case provider.BackendOllama:
		pingers = append(pingers, server.NewHTTPPinger("llm", providerCfg.Ollama.Host, nil))
	}

	return pingers
}

// baseURL strips the path from raw so checks hit the service root rather
// than a POST-only route.
func baseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host + "/"
}

// flagOrEnvInt returns the flag value when it was set explicitly, else the
// env value, else the flag default. Env is read at run time so values from
// .env and the YAML config apply.
func flagOrEnvInt(cmd *cobra.Command, flag, env string, val int) int {
	if cmd.Flags().Changed(flag) {
		return val
	}
	return getEnvInt(env, val)
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvFloat32(key string, fallback float32) float32 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 32); err == nil {
		return float32(v)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}
