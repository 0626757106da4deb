// Package server implements the HTTP server that exposes the conversational
// retrieval chain over a JSON/SSE API. It is started by `medqa serve`.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/medqa-go/internal/chain"
	"github.com/54b3r/medqa-go/internal/logging"
	"github.com/54b3r/medqa-go/internal/rag"
)

// maxSearchTopK caps the topK a client may request from /api/search.
const maxSearchTopK = 50

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// New constructs a Server from the provided chain, retriever, and config.
func New(answerer Answerer, retriever rag.Retriever, cfg *Config) (*Server, error) {
	if answerer == nil {
		return nil, fmt.Errorf("server: chain must not be nil")
	}
	if retriever == nil {
		return nil, fmt.Errorf("server: retriever must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	applyDefaults(cfg)

	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	s := &Server{
		chain:     answerer,
		retriever: retriever,
		sessions:  newSessionStore(cfg.SessionTTL, cfg.HistoryMaxTokens),
		cfg:       cfg,
		log:       log,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		log.Warn("server: MEDQA_API_KEY is not set, API authentication is disabled")
	}

	quota, stopQuota := newQuotaGuard(cfg.RateLimit, cfg.RateBurst, func(route string) {
		s.metrics.httpThrottledTotal.WithLabelValues(route).Inc()
	})
	stopSessions := s.sessions.start(func(live int) { s.metrics.chatSessions.Set(float64(live)) })
	s.stop = []func(){stopQuota, stopSessions}

	protect := func(name string, h http.HandlerFunc) http.Handler {
		return s.metrics.instrument(name, quota.wrap(name, requireAPIKey(cfg.APIKey, h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", protect("chat", s.handleChat))
	mux.Handle("POST /api/chat/clear", protect("chat_clear", s.handleClear))
	mux.Handle("POST /api/search", protect("search", s.handleSearch))
	mux.Handle("GET /api/health", s.metrics.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.metrics.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// Streaming answers must fit inside the write deadline.
		cfg.WriteTimeout = cfg.ChatTimeout + 10*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.HistoryMaxTokens == 0 {
		cfg.HistoryMaxTokens = chain.DefaultHistoryMaxTokens
	}
	if cfg.SearchTopK == 0 {
		cfg.SearchTopK = 5
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer func() {
		for _, stop := range s.stop {
			stop()
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("medqa server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("medqa server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/chat. The answer is streamed as SSE data
// frames, followed by a "sources" event carrying the retrieved passages and
// a final "done" event. Errors after the stream opens arrive as an "error"
// event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	newSession := req.SessionID == ""
	if newSession {
		req.SessionID = newRequestID()
	}
	mem := s.sessions.get(req.SessionID)
	s.metrics.chatSessions.Set(float64(s.sessions.len()))

	if newSession {
		fmt.Fprintf(w, "event: session\ndata: %s\n\n", req.SessionID)
		flusher.Flush()
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()
	start := time.Now()

	sw := &sseWriter{w: w, flusher: flusher}
	res, err := s.chain.Stream(ctx, mem, req.Message, sw)

	outcome := "ok"
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Error("chat failed",
			slog.String("session_id", req.SessionID),
			slog.String("outcome", outcome),
			slog.Any("error", err),
		)
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", strings.ReplaceAll(err.Error(), "\n", " "))
		flusher.Flush()
		return
	}

	s.metrics.retrievedPassages.Observe(float64(len(res.Sources)))
	log.Info("chat answered",
		slog.String("session_id", req.SessionID),
		slog.Int("sources", len(res.Sources)),
		slog.Bool("condensed", res.StandaloneQuestion != res.Question),
	)

	if payload, err := json.Marshal(toSourceDocs(res.Sources)); err == nil {
		fmt.Fprintf(w, "event: sources\ndata: %s\n\n", payload)
	} else {
		log.Error("sources encode error", slog.Any("error", err))
	}
	fmt.Fprintf(w, "event: done\ndata: [DONE]\n\n")
	flusher.Flush()
}

// handleClear handles POST /api/chat/clear, forgetting a session's history.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}
	s.sessions.clear(req.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handleSearch handles POST /api/search: raw retrieval with no generation.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.metrics.searchRequestsTotal.WithLabelValues("bad_request").Inc()
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.SearchTopK
	}
	topK = min(topK, maxSearchTopK)

	docs, err := s.retriever.Retrieve(r.Context(), req.Query, topK)
	if errors.Is(err, rag.ErrEmptyQuery) {
		s.metrics.searchRequestsTotal.WithLabelValues("bad_request").Inc()
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.metrics.searchRequestsTotal.WithLabelValues("error").Inc()
		log.Error("search failed", slog.Any("error", err))
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}
	s.metrics.searchRequestsTotal.WithLabelValues("ok").Inc()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(searchResponse{Query: req.Query, Results: toSourceDocs(docs)}); err != nil {
		log.Error("search encode error", slog.Any("error", err))
	}
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data frames.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line chunks never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	chunk := strings.TrimRight(string(bytes.Clone(p)), "\n")
	var buf strings.Builder
	for _, line := range strings.Split(chunk, "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err = fmt.Fprint(s.w, buf.String()); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}
