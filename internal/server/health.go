package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/54b3r/medqa-go/internal/logging"
	"github.com/54b3r/medqa-go/internal/version"
)

// checkTimeout bounds each dependency check during a readiness check.
const checkTimeout = 5 * time.Second

// Pinger is the interface implemented by any dependency that can report its
// own reachability. Each implementation must return nil when the dependency
// is healthy and a descriptive error otherwise.
// Implementations must be safe to call from multiple goroutines.
type Pinger interface {
	// Ping checks whether the dependency is reachable within the given context.
	// Returns nil on success, a descriptive error on failure.
	Ping(ctx context.Context) error

	// Name returns a short label used in readiness responses
	// (e.g. "embedder", "qdrant").
	Name() string
}

// readyCheck holds the per-dependency result of a readiness check.
type readyCheck struct {
	// Name is the dependency label (e.g. "embedder", "pgvector").
	Name string `json:"name"`
	// OK is true when the dependency responded successfully.
	OK bool `json:"ok"`
	// Error contains the failure reason when OK is false. Empty on success.
	Error string `json:"error,omitempty"`
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	// Ready is true only when every dependency check succeeded.
	Ready bool `json:"ready"`
	// Checks contains the per-dependency check results.
	Checks []readyCheck `json:"checks"`
}

// handleReady handles GET /api/ready. It pings each registered Pinger and
// returns 200 when all dependencies are reachable, or 503 when any check
// fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resp := readyResponse{Ready: true, Checks: []readyCheck{}}
	allOK := true

	for _, p := range s.pingers {
		pingCtx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := p.Ping(pingCtx)
		cancel()

		check := readyCheck{Name: p.Name(), OK: err == nil}
		if err != nil {
			check.Error = err.Error()
			allOK = false
			log.Warn("readiness check failed",
				slog.String("dependency", p.Name()),
				slog.Any("error", err),
			)
		}
		resp.Checks = append(resp.Checks, check)
	}

	resp.Ready = allOK

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("ready encode error", slog.Any("error", err))
	}
}

// handleHealth handles GET /api/health for liveness checks. It also reports
// the build version and the number of live chat sessions.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"version":  version.Version,
		"sessions": s.sessions.len(),
	}); err != nil {
		logging.FromContext(r.Context()).Error("health encode error", slog.Any("error", err))
	}
}
