package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateServer answers every request with reply and records the decoded body.
func generateServer(t *testing.T, status int, reply string, got *generateRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			_ = json.NewDecoder(r.Body).Decode(got)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func Test_NewGenerateModel_Defaults(t *testing.T) {
	t.Parallel()
	m, err := NewGenerateModel(&GenerateConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultGenerateURL, m.url)
	assert.Equal(t, DefaultGenerateMaxTokens, m.maxNewTokens)
	assert.InDelta(t, DefaultGenerateTemperature, m.temperature, 1e-6)
	assert.Equal(t, "QwenGenerate", m.GetType())

	_, err = NewGenerateModel(&GenerateConfig{URL: "localhost:8000"})
	assert.Error(t, err)
}

func Test_GenerateModel_WireFormat(t *testing.T) {
	t.Parallel()
	var got generateRequest
	srv := generateServer(t, http.StatusOK, `{"response":"Give fluids."}`, &got)

	m, err := NewGenerateModel(&GenerateConfig{URL: srv.URL, EnableThinking: true})
	require.NoError(t, err)

	msg, err := m.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("You are a pediatrician."),
		schema.UserMessage("How to treat mild dehydration?"),
	})
	require.NoError(t, err)
	assert.Equal(t, schema.Assistant, msg.Role)
	assert.Equal(t, "Give fluids.", msg.Content)

	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "You are a pediatrician.\n\nHow to treat mild dehydration?", got.Messages[0].Content)
	assert.True(t, got.EnableThinking)
	assert.Equal(t, 1500, got.MaxNewTokens)
	assert.InDelta(t, 0.3, got.Temperature, 1e-6)
}

func Test_GenerateModel_OptionsOverrideDefaults(t *testing.T) {
	t.Parallel()
	var got generateRequest
	srv := generateServer(t, http.StatusOK, `{"response":"ok"}`, &got)

	m, err := NewGenerateModel(&GenerateConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = m.Generate(context.Background(),
		[]*schema.Message{schema.UserMessage("hi")},
		model.WithTemperature(0.1), model.WithMaxTokens(512))
	require.NoError(t, err)
	assert.Equal(t, 512, got.MaxNewTokens)
	assert.InDelta(t, 0.1, got.Temperature, 1e-6)
}

func Test_GenerateModel_ZeroTemperature(t *testing.T) {
	var got generateRequest
	srv := generateServer(t, http.StatusOK, `{"response":"ok"}`, &got)

	t.Setenv("MODEL_PROVIDER", "qwen")
	t.Setenv("QWEN_GENERATE_URL", srv.URL)
	t.Setenv("MODEL_TEMPERATURE", "0")

	cfg := ConfigFromEnv()
	assert.Zero(t, cfg.Tuning.Temperature)

	m, err := New(context.Background(), cfg)
	require.NoError(t, err)
	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Zero(t, got.Temperature, "greedy decoding must reach the endpoint")
	assert.Contains(t, rawBody(t, got), `"temperature":0`)
}

func rawBody(t *testing.T, req generateRequest) string {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return string(b)
}

func Test_GenerateModel_StopWords(t *testing.T) {
	t.Parallel()
	srv := generateServer(t, http.StatusOK, `{"response":"Answer here.\nHuman: next question\nObservation: x"}`, nil)

	m, err := NewGenerateModel(&GenerateConfig{URL: srv.URL})
	require.NoError(t, err)

	msg, err := m.Generate(context.Background(),
		[]*schema.Message{schema.UserMessage("q")},
		model.WithStop([]string{"Observation:", "\nHuman:"}))
	require.NoError(t, err)
	assert.Equal(t, "Answer here.", msg.Content)
}

func Test_GenerateModel_MissingResponseIsEmpty(t *testing.T) {
	t.Parallel()
	srv := generateServer(t, http.StatusOK, `{}`, nil)
	m, err := NewGenerateModel(&GenerateConfig{URL: srv.URL})
	require.NoError(t, err)

	msg, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("q")})
	require.NoError(t, err)
	assert.Empty(t, msg.Content)
}

func Test_GenerateModel_HTTPError(t *testing.T) {
	t.Parallel()
	srv := generateServer(t, http.StatusInternalServerError, `CUDA out of memory`, nil)
	m, err := NewGenerateModel(&GenerateConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("q")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func Test_GenerateModel_Stream(t *testing.T) {
	t.Parallel()
	srv := generateServer(t, http.StatusOK, `{"response":"streamed"}`, nil)
	m, err := NewGenerateModel(&GenerateConfig{URL: srv.URL})
	require.NoError(t, err)

	sr, err := m.Stream(context.Background(), []*schema.Message{schema.UserMessage("q")})
	require.NoError(t, err)
	defer sr.Close()

	var sb strings.Builder
	for {
		chunk, err := sr.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sb.WriteString(chunk.Content)
	}
	assert.Equal(t, "streamed", sb.String())
}

func Test_FlattenMessages(t *testing.T) {
	t.Parallel()
	got := FlattenMessages([]*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage("first"),
		schema.AssistantMessage("reply", nil),
		schema.UserMessage("  "),
		schema.UserMessage("second"),
	})
	assert.Equal(t, "sys\n\nfirst\n\nAssistant: reply\n\nsecond", got)
}

func Test_TruncateAtStop(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		stop []string
		want string
	}{
		{"abc", nil, "abc"},
		{"abcSTOPdef", []string{"STOP"}, "abc"},
		{"a1b2", []string{"2", "1"}, "a"},
		{"abc", []string{""}, "abc"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, truncateAtStop(tc.in, tc.stop))
	}
}
