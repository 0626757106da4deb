package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/medqa-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "text-embedding-004"

	defaultOllamaDimensions = 768
	defaultOpenAIDimensions = 1536
	defaultGeminiDimensions = 768
)

// Backend returns the embedding backend selected by EMBEDDING_PROVIDER
// (default: qwen).
func Backend() string {
	return strings.ToLower(getEnvOrDefault("EMBEDDING_PROVIDER", "qwen"))
}

// DefaultDimensions returns the embedding vector size for backend. Callers
// that create a vector collection use this rather than hardcoding a value.
// EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "openai", "azure":
		return defaultOpenAIDimensions
	case "gemini":
		return defaultGeminiDimensions
	default:
		return DefaultQwenDimensions
	}
}

// NewFromEnv constructs a rag.Embedder for the backend named by
// EMBEDDING_PROVIDER.
//
//	qwen    EMBEDDING_ENDPOINT, EMBEDDING_DIMENSIONS, EMBEDDING_NORMALIZE, EMBEDDING_BATCH_SIZE
//	ollama  EMBEDDING_ENDPOINT (else OLLAMA_HOST), EMBEDDING_MODEL
//	openai  EMBEDDING_API_KEY (else OPENAI_API_KEY), EMBEDDING_ENDPOINT, EMBEDDING_MODEL
//	azure   EMBEDDING_API_KEY (else AZURE_OPENAI_API_KEY), EMBEDDING_ENDPOINT (else AZURE_OPENAI_ENDPOINT)
//	gemini  EMBEDDING_API_KEY (else GOOGLE_API_KEY), EMBEDDING_MODEL
func NewFromEnv(ctx context.Context) (rag.Embedder, error) {
	backend := Backend()
	dims := DefaultDimensions(backend)

	switch backend {
	case "qwen":
		cfg := DefaultQwenConfig()
		cfg.Endpoint = getEnvOrDefault("EMBEDDING_ENDPOINT", DefaultQwenEndpoint)
		cfg.Dimensions = dims
		cfg.Normalize = getEnvBool("EMBEDDING_NORMALIZE", true)
		cfg.BatchSize = getEnvInt("EMBEDDING_BATCH_SIZE", DefaultQwenBatchSize)
		return NewQwenEmbedder(cfg)

	case "ollama":
		host := getEnv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllamaEmbedder(&OllamaConfig{
			Host:  host,
			Model: getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel),
		}), nil

	case "openai":
		apiKey := firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    getEnvOrDefault("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
		}), nil

	case "azure":
		apiKey := firstEnv("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT")
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    strings.TrimRight(endpoint, "/") + "/openai",
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		}), nil

	case "gemini":
		apiKey := firstEnv("EMBEDDING_API_KEY", "GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: gemini requires GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}
		return NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultGeminiModel),
			Dimensions: dims,
		})

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid: qwen, ollama, openai, azure, gemini)", backend)
	}
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// firstEnv returns the first non-empty value among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
