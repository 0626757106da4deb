// Package provider builds the chat model that answers questions. The default
// backend is a self-hosted Qwen3 generation endpoint wrapped as an eino
// model.BaseChatModel; Ollama, OpenAI, Azure OpenAI, Volcengine Ark and
// Google Gemini are available through eino-ext.
package provider

import (
	"fmt"
	"strings"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendQwen selects the self-hosted Qwen3 /generate endpoint.
	BackendQwen Backend = "qwen"
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects Volcengine Ark (hosted Doubao/Qwen/DeepSeek models).
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderQwen configures the self-hosted generation endpoint.
type ProviderQwen struct {
	// URL is the full generate route (QWEN_GENERATE_URL).
	URL string
	// EnableThinking turns on the model's reasoning trace (QWEN_ENABLE_THINKING).
	EnableThinking bool
}

// ProviderOllama configures a local Ollama instance.
type ProviderOllama struct {
	Host  string
	Model string
}

// ProviderOpenAI configures the OpenAI API.
type ProviderOpenAI struct {
	APIKey string
	Model  string
}

// ProviderAzureOpenAI configures Azure OpenAI Service.
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// ProviderArk configures Volcengine Ark.
type ProviderArk struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderGemini configures Google Gemini.
type ProviderGemini struct {
	APIKey string
	Model  string
}

// SharedTuning holds generation parameters applied to every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens generated per response.
	MaxTokens int
	// Temperature controls response randomness.
	Temperature float32
}

// Config holds all provider-level configuration. Only the block matching
// Backend is consulted.
type Config struct {
	Backend     Backend
	Qwen        ProviderQwen
	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ark         ProviderArk
	Gemini      ProviderGemini
	Tuning      SharedTuning
}

// Validate reports the first missing setting for the selected backend, naming
// the environment variable that supplies it.
func (c *Config) Validate() error {
	missing := func(env string) error {
		return fmt.Errorf("provider: %s backend requires %s", c.Backend, env)
	}
	switch c.Backend {
	case BackendQwen:
		if c.Qwen.URL == "" {
			return missing("QWEN_GENERATE_URL")
		}
		if !strings.HasPrefix(c.Qwen.URL, "http://") && !strings.HasPrefix(c.Qwen.URL, "https://") {
			return fmt.Errorf("provider: QWEN_GENERATE_URL %q must start with http:// or https://", c.Qwen.URL)
		}
	case BackendOllama:
		if c.Ollama.Model == "" {
			return missing("OLLAMA_MODEL")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return missing("OPENAI_API_KEY")
		}
		if c.OpenAI.Model == "" {
			return missing("OPENAI_MODEL")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return missing("AZURE_OPENAI_API_KEY")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return missing("AZURE_OPENAI_ENDPOINT")
		}
		if c.AzureOpenAI.Deployment == "" {
			return missing("AZURE_OPENAI_DEPLOYMENT")
		}
	case BackendArk:
		if c.Ark.APIKey == "" {
			return missing("ARK_API_KEY")
		}
		if c.Ark.Model == "" {
			return missing("ARK_MODEL")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return missing("GOOGLE_API_KEY")
		}
		if c.Gemini.Model == "" {
			return missing("GEMINI_MODEL")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q (valid: qwen, ollama, openai, azure, ark, gemini)", c.Backend)
	}
	return nil
}

// ModelName returns the model identifier for the selected backend, for
// logging and audit.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendQwen:
		return "qwen3-local"
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendArk:
		return c.Ark.Model
	case BackendGemini:
		return c.Gemini.Model
	}
	return ""
}
