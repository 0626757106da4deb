package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/medqa-go/internal/chain"
	"github.com/54b3r/medqa-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds one /api/chat request end to end (default: 5m).
	ChatTimeout time.Duration
	// SessionTTL is how long an idle chat session keeps its memory
	// (default: 30m).
	SessionTTL time.Duration
	// HistoryMaxTokens bounds each session's memory (default: chain default).
	HistoryMaxTokens int
	// SearchTopK is the default result count for /api/search (default: 5).
	SearchTopK int
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency checks run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Answerer streams an answer for one question within a conversation.
// *chain.Chain satisfies it; tests inject a fake.
type Answerer interface {
	Stream(ctx context.Context, mem *chain.Memory, question string, w io.Writer) (*chain.Result, error)
}

// Server is the HTTP server that exposes the conversational chain and the
// retriever.
type Server struct {
	// chain answers /api/chat questions.
	chain Answerer
	// retriever serves /api/search.
	retriever rag.Retriever
	// sessions holds per-session conversation memory.
	sessions *sessionStore
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency checks for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors.
	metrics *serverMetrics
	// stop halts the background eviction goroutines on shutdown.
	stop []func()
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Message is the user's question.
	Message string `json:"message"`
	// SessionID selects the conversation. A new one is issued when empty.
	SessionID string `json:"sessionId"`
}

// clearRequest is the JSON body for POST /api/chat/clear.
type clearRequest struct {
	SessionID string `json:"sessionId"`
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	// Query is the text to search for.
	Query string `json:"query"`
	// TopK overrides the default result count.
	TopK int `json:"topK"`
}

// sourceDoc is a retrieved passage as returned to API clients.
type sourceDoc struct {
	ID      string            `json:"id"`
	Source  string            `json:"source"`
	Page    int               `json:"page"`
	Content string            `json:"content"`
	Score   float32           `json:"score"`
	Meta    map[string]string `json:"metadata,omitempty"`
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	Query   string      `json:"query"`
	Results []sourceDoc `json:"results"`
}

func toSourceDocs(docs []rag.Document) []sourceDoc {
	out := make([]sourceDoc, 0, len(docs))
	for _, d := range docs {
		out = append(out, sourceDoc{
			ID:      d.ID,
			Source:  d.Source,
			Page:    d.Page,
			Content: d.Content,
			Score:   d.Score,
			Meta:    d.Metadata,
		})
	}
	return out
}
