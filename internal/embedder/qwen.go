package embedder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Qwen embedding service defaults.
const (
	DefaultQwenEndpoint   = "http://localhost:8001/embed"
	DefaultQwenDimensions = 1024
	DefaultQwenBatchSize  = 50
	defaultQwenTimeout    = 30 * time.Second
	qwenSuccessCode       = 200
)

// QwenConfig holds the settings for constructing a QwenEmbedder.
type QwenConfig struct {
	// Endpoint is the full URL of the embed route (e.g. "http://gpu-box:8001/embed").
	Endpoint string
	// Dimensions is the requested output vector size ("dim" on the wire).
	Dimensions int
	// Normalize asks the service to L2-normalise every vector.
	Normalize bool
	// BatchSize caps the number of texts per request.
	BatchSize int
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
}

// DefaultQwenConfig returns the configuration used when nothing is overridden.
func DefaultQwenConfig() *QwenConfig {
	return &QwenConfig{
		Endpoint:   DefaultQwenEndpoint,
		Dimensions: DefaultQwenDimensions,
		Normalize:  true,
		BatchSize:  DefaultQwenBatchSize,
		Timeout:    defaultQwenTimeout,
	}
}

// QwenEmbedder implements rag.Embedder against a self-hosted Qwen3 embedding
// service. It is safe for concurrent use.
type QwenEmbedder struct {
	endpoint  string
	dims      int
	normalize bool
	batchSize int
	client    *http.Client
}

// qwenEmbedRequest is the JSON body sent to the embed endpoint.
type qwenEmbedRequest struct {
	Texts     []string `json:"texts"`
	Dim       int      `json:"dim"`
	Normalize bool     `json:"normalize"`
}

// qwenEmbedResponse wraps the embeddings in a status envelope; code 200 means
// success and message carries the failure reason otherwise.
type qwenEmbedResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Embeddings [][]float32 `json:"embeddings"`
	} `json:"data"`
}

// NewQwenEmbedder validates cfg and constructs a QwenEmbedder. Zero-valued
// numeric fields fall back to the defaults; Normalize is taken as given.
func NewQwenEmbedder(cfg *QwenConfig) (*QwenEmbedder, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultQwenEndpoint
	}
	if err := validateEndpoint("qwen", endpoint); err != nil {
		return nil, err
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultQwenDimensions
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultQwenBatchSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultQwenTimeout
	}
	return &QwenEmbedder{
		endpoint:  endpoint,
		dims:      dims,
		normalize: cfg.Normalize,
		batchSize: batch,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

// Dimensions returns the vector size requested from the service.
func (e *QwenEmbedder) Dimensions() int { return e.dims }

// Embed converts texts into embeddings, issuing one request per batch.
// Results are concatenated in input order. An empty input makes no request.
func (e *QwenEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vecs, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds a single query string. Blank input returns nil without
// contacting the service.
func (e *QwenEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	vecs, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *QwenEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var result qwenEmbedResponse
	err := postJSON(ctx, e.client, "qwen", e.endpoint, nil, qwenEmbedRequest{
		Texts:     texts,
		Dim:       e.dims,
		Normalize: e.normalize,
	}, &result)
	if err != nil {
		return nil, err
	}

	if result.Code != qwenSuccessCode {
		msg := result.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("qwen embedder: code %d: %s: %w", result.Code, msg, ErrAPI)
	}
	if result.Data == nil || result.Data.Embeddings == nil {
		return nil, fmt.Errorf("qwen embedder: response has no data.embeddings: %w", ErrAPI)
	}
	if len(result.Data.Embeddings) != len(texts) {
		return nil, fmt.Errorf("qwen embedder: expected %d embeddings, got %d", len(texts), len(result.Data.Embeddings))
	}
	return result.Data.Embeddings, nil
}
