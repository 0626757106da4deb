package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrAPI marks a well-formed response in which the embedding service itself
// reported failure (e.g. the Qwen endpoint's code != 200). These are not
// retried.
var ErrAPI = errors.New("embedder: api error")

// maxErrorBody caps how much of a non-2xx response body is kept in errors.
const maxErrorBody = 512

// StatusError is returned when an embedding endpoint answers with a non-2xx
// HTTP status.
type StatusError struct {
	// Backend names the embedder that made the call (qwen, ollama, openai).
	Backend string
	// Code is the HTTP status code.
	Code int
	// Body is the first few hundred bytes of the response body.
	Body string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s embedder: HTTP %d", e.Backend, e.Code)
	}
	return fmt.Sprintf("%s embedder: HTTP %d: %s", e.Backend, e.Code, e.Body)
}

// Temporary reports whether the request may succeed if repeated:
// 408, 429 and any 5xx.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusRequestTimeout ||
		e.Code == http.StatusTooManyRequests ||
		e.Code >= http.StatusInternalServerError
}

// postJSON marshals in, POSTs it to url with the given headers and decodes a
// 2xx response body into out.
func postJSON(ctx context.Context, client *http.Client, backend, url string, headers map[string]string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s embedder: marshal request: %w", backend, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s embedder: create request: %w", backend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s embedder: request failed: %w", backend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Backend: backend,
			Code:    resp.StatusCode,
			Body:    strings.TrimSpace(string(snippet)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s embedder: decode response: %w", backend, err)
	}
	return nil
}

// validateEndpoint rejects URLs that are not plain http(s).
func validateEndpoint(backend, endpoint string) error {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return fmt.Errorf("%s embedder: endpoint %q must start with http:// or https://", backend, endpoint)
	}
	return nil
}
