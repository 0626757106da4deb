package embedder

import (
	"fmt"
	"log/slog"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat models
// rather than embedding models.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama-3",
	"mistral",
	"mixtral",
	"gemma",
	"phi3",
	"claude",
	"deepseek",
	"qwen3:",
	"qwen2.5",
	"doubao",
	"gemini-",
}

// looksLikeChatModel returns true when the model name resembles a known chat
// model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") {
		return false
	}
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// ValidateForRAG is a pre-flight check run before any command that embeds.
// It returns an error for configuration that cannot work (missing keys,
// malformed endpoint) and logs a warning when EMBEDDING_MODEL looks like a
// chat model.
func ValidateForRAG(log *slog.Logger) error {
	backend := Backend()

	switch backend {
	case "qwen":
		endpoint := getEnvOrDefault("EMBEDDING_ENDPOINT", DefaultQwenEndpoint)
		if err := validateEndpoint("qwen", endpoint); err != nil {
			return fmt.Errorf("embedder: EMBEDDING_ENDPOINT: %w", err)
		}

	case "ollama":

	case "openai":
		if firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY") == "" {
			return fmt.Errorf("embedder: no OpenAI API key found, set OPENAI_API_KEY or EMBEDDING_API_KEY")
		}

	case "azure":
		if firstEnv("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY") == "" {
			return fmt.Errorf("embedder: no Azure API key found, set AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT") == "" {
			return fmt.Errorf("embedder: no Azure endpoint found, set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}

	case "gemini":
		if firstEnv("EMBEDDING_API_KEY", "GOOGLE_API_KEY") == "" {
			return fmt.Errorf("embedder: no Gemini API key found, set GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}

	default:
		return fmt.Errorf("embedder: unknown EMBEDDING_PROVIDER %q (valid: qwen, ollama, openai, azure, gemini)", backend)
	}

	if model := getEnv("EMBEDDING_MODEL"); model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
			slog.String("model", model),
			slog.String("backend", backend),
			slog.String("hint", "use a dedicated embedding model e.g. Qwen3-Embedding, nomic-embed-text, text-embedding-3-small"),
		)
	}

	return nil
}
