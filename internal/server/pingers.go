package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qdrant/go-client/qdrant"
)

// HTTPPinger checks an HTTP backend (embedding service, Qwen generate
// endpoint, Ollama) with a plain GET. Any response below 500 counts as
// reachable; a 404 on the base URL still proves the process is up.
type HTTPPinger struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger. A nil client uses http.DefaultClient.
func NewHTTPPinger(name, url string, client *http.Client) *HTTPPinger {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPinger{name: name, url: url, client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *HTTPPinger) Name() string { return p.name }

// Ping issues GET url.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("unhealthy status %d", resp.StatusCode)
	}
	return nil
}

// QdrantPinger checks a Qdrant instance using its native HealthCheck RPC.
type QdrantPinger struct {
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// PgvectorPinger checks the Postgres pool backing the pgvector store.
type PgvectorPinger struct {
	pool *pgxpool.Pool
}

// NewPgvectorPinger constructs a PgvectorPinger.
func NewPgvectorPinger(pool *pgxpool.Pool) *PgvectorPinger {
	return &PgvectorPinger{pool: pool}
}

// Name returns the dependency label used in readiness responses.
func (p *PgvectorPinger) Name() string { return "pgvector" }

// Ping acquires a connection and runs the pgx ping.
func (p *PgvectorPinger) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}
