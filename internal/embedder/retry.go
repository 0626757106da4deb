package embedder

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/54b3r/medqa-go/internal/logging"
	"github.com/54b3r/medqa-go/internal/rag"
)

// RetryConfig controls the exponential backoff applied by Retrying.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first (default 3).
	MaxRetries uint64
	// InitialInterval is the wait before the first retry (default 500ms).
	InitialInterval time.Duration
	// MaxInterval caps the wait between attempts (default 10s).
	MaxInterval time.Duration
}

// Retrying wraps a rag.Embedder and retries transient failures: transport
// errors, 408, 429 and 5xx. API-level errors (ErrAPI) and other 4xx
// responses fail immediately.
type Retrying struct {
	inner rag.Embedder
	cfg   RetryConfig
}

// NewRetrying wraps inner. Zero-valued fields in cfg take the defaults.
func NewRetrying(inner rag.Embedder, cfg RetryConfig) *Retrying {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	return &Retrying{inner: inner, cfg: cfg}
}

// Embed calls the wrapped embedder, retrying on transient failure.
func (r *Retrying) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	op := func() error {
		vecs, err := r.inner.Embed(ctx, texts)
		if err != nil {
			if ctx.Err() != nil || !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = vecs
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		logging.FromContext(ctx).Warn("embedder: retrying after transient failure",
			slog.Int("texts", len(texts)),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, r.cfg.MaxRetries), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return out, nil
}

// isRetryable reports whether err is worth another attempt.
func isRetryable(err error) bool {
	if errors.Is(err, ErrAPI) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
