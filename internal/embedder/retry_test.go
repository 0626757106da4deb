package embedder

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyEmbedder fails with errs[i] on call i and succeeds once errs is exhausted.
type flakyEmbedder struct {
	errs  []error
	calls int
}

func (f *flakyEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	defer func() { f.calls++ }()
	if f.calls < len(f.errs) {
		return nil, f.errs[f.calls]
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func Test_Retrying_RecoversFromTransientErrors(t *testing.T) {
	t.Parallel()
	inner := &flakyEmbedder{errs: []error{
		errors.New("connection reset"),
		&StatusError{Backend: "qwen", Code: 503},
	}}
	r := NewRetrying(inner, fastRetry())

	vecs, err := r.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 3, inner.calls)
}

func Test_Retrying_DoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
	}{
		{"api error", fmt.Errorf("qwen embedder: code 400: bad dim: %w", ErrAPI)},
		{"http 400", &StatusError{Backend: "qwen", Code: 400}},
		{"http 401", &StatusError{Backend: "openai", Code: 401}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			inner := &flakyEmbedder{errs: []error{tc.err, tc.err, tc.err, tc.err}}
			_, err := NewRetrying(inner, fastRetry()).Embed(context.Background(), []string{"a"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, 1, inner.calls)
		})
	}
}

func Test_Retrying_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()
	transient := &StatusError{Backend: "qwen", Code: 502}
	inner := &flakyEmbedder{errs: []error{transient, transient, transient, transient, transient}}
	_, err := NewRetrying(inner, fastRetry()).Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Equal(t, 4, inner.calls, "one attempt plus three retries")
}

func Test_Retrying_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inner := &flakyEmbedder{errs: []error{context.Canceled, context.Canceled}}
	_, err := NewRetrying(inner, fastRetry()).Embed(ctx, []string{"a"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}
