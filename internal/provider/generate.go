package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/medqa-go/internal/logging"
)

// Generation endpoint defaults.
const (
	DefaultGenerateURL         = "http://localhost:8000/qwen3/local/generate"
	DefaultGenerateMaxTokens   = 1500
	DefaultGenerateTemperature = 0.3
	defaultGenerateTimeout     = 60 * time.Second
)

// GenerateConfig holds the settings for a GenerateModel.
type GenerateConfig struct {
	// URL is the full generate route.
	URL string
	// EnableThinking is forwarded as enable_thinking.
	EnableThinking bool
	// MaxNewTokens is the default max_new_tokens; model.WithMaxTokens overrides it.
	MaxNewTokens int
	// Temperature is the default temperature; model.WithTemperature overrides
	// it. Nil selects DefaultGenerateTemperature; zero means greedy decoding.
	Temperature *float32
	// Timeout bounds a single request.
	Timeout time.Duration
}

// GenerateModel is an eino chat model backed by a single-turn HTTP generation
// endpoint. The endpoint accepts exactly one user message, so the input
// conversation is flattened into one prompt.
type GenerateModel struct {
	url            string
	enableThinking bool
	maxNewTokens   int
	temperature    float32
	client         *http.Client
}

var _ model.BaseChatModel = (*GenerateModel)(nil)

type generateMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generateRequest struct {
	Messages       []generateMessage `json:"messages"`
	EnableThinking bool              `json:"enable_thinking"`
	MaxNewTokens   int               `json:"max_new_tokens"`
	Temperature    float32           `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// NewGenerateModel validates cfg and returns a GenerateModel. Zero-valued
// fields take the package defaults.
func NewGenerateModel(cfg *GenerateConfig) (*GenerateModel, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = DefaultGenerateURL
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("provider: generate URL %q must start with http:// or https://", url)
	}
	m := &GenerateModel{
		url:            url,
		enableThinking: cfg.EnableThinking,
		maxNewTokens:   cfg.MaxNewTokens,
		temperature:    DefaultGenerateTemperature,
		client:         &http.Client{Timeout: cfg.Timeout},
	}
	if m.maxNewTokens <= 0 {
		m.maxNewTokens = DefaultGenerateMaxTokens
	}
	if cfg.Temperature != nil {
		m.temperature = *cfg.Temperature
	}
	if m.client.Timeout <= 0 {
		m.client.Timeout = defaultGenerateTimeout
	}
	return m, nil
}

// Generate sends the flattened conversation to the endpoint and returns the
// answer as an assistant message, truncated at the first stop word.
func (m *GenerateModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	temp := m.temperature
	maxTokens := m.maxNewTokens
	o := model.GetCommonOptions(&model.Options{Temperature: &temp, MaxTokens: &maxTokens}, opts...)
	if o.Temperature != nil {
		temp = *o.Temperature
	}
	if o.MaxTokens != nil {
		maxTokens = *o.MaxTokens
	}

	prompt := FlattenMessages(input)
	payload, err := json.Marshal(generateRequest{
		Messages:       []generateMessage{{Role: string(schema.User), Content: prompt}},
		EnableThinking: m.enableThinking,
		MaxNewTokens:   maxTokens,
		Temperature:    temp,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: generate: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("provider: generate: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: generate: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("provider: generate: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("provider: generate: decode response: %w", err)
	}

	answer := truncateAtStop(result.Response, o.Stop)
	logging.FromContext(ctx).Debug("provider: generate complete",
		slog.Int("prompt_chars", len(prompt)),
		slog.Int("answer_chars", len(answer)),
		slog.Int("max_new_tokens", maxTokens),
		slog.Duration("latency", time.Since(start)),
	)
	return schema.AssistantMessage(answer, nil), nil
}

// Stream returns the Generate result as a single-chunk stream. The endpoint
// has no incremental mode.
func (m *GenerateModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// GetType names the component in eino callbacks and traces.
func (m *GenerateModel) GetType() string { return "QwenGenerate" }

// FlattenMessages renders a conversation as one prompt. System and user
// messages are emitted verbatim; assistant turns are prefixed so the model
// can tell them apart. Sections are separated by a blank line.
func FlattenMessages(msgs []*schema.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		if msg.Role == schema.Assistant {
			content = "Assistant: " + content
		}
		parts = append(parts, content)
	}
	return strings.Join(parts, "\n\n")
}

// truncateAtStop cuts s at the earliest occurrence of any stop word.
func truncateAtStop(s string, stop []string) string {
	cut := len(s)
	for _, w := range stop {
		if w == "" {
			continue
		}
		if i := strings.Index(s, w); i >= 0 && i < cut {
			cut = i
		}
	}
	return s[:cut]
}
