package repl

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/medqa-go/internal/chain"
	"github.com/54b3r/medqa-go/internal/rag"
)

type fakeAnswerer struct {
	questions []string
	err       error
	sources   []rag.Document
}

func (f *fakeAnswerer) Invoke(_ context.Context, mem *chain.Memory, q string) (*chain.Result, error) {
	f.questions = append(f.questions, q)
	if f.err != nil {
		return nil, f.err
	}
	answer := "answer to " + q
	mem.Add(q, answer)
	return &chain.Result{Question: q, StandaloneQuestion: q, Answer: answer, Sources: f.sources}, nil
}

type fakeRetriever struct {
	docs  []rag.Document
	err   error
	topKs []int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, topK int) ([]rag.Document, error) {
	f.topKs = append(f.topKs, topK)
	return f.docs, f.err
}

func docs(n int) []rag.Document {
	out := make([]rag.Document, n)
	for i := range out {
		out[i] = rag.Document{Source: "pediatrics.pdf", Page: i + 1, Content: "passage", Score: 0.5}
	}
	return out
}

func TestConversation_Run(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		input         string
		err           error
		wantQuestions []string
		wantOut       []string
		notOut        []string
	}{
		{
			name:          "exit is case insensitive",
			input:         "EXIT\nnever asked\n",
			wantQuestions: nil,
			wantOut:       []string{"You: ", "Goodbye!"},
		},
		{
			name:          "blank input is rejected",
			input:         "   \nexit\n",
			wantQuestions: nil,
			wantOut:       []string{"please enter a valid question"},
		},
		{
			name:          "question answered with references",
			input:         "why fever?\nexit\n",
			wantQuestions: []string{"why fever?"},
			wantOut:       []string{"Assistant: answer to why fever?", "Reference passages (top 3):", "[1] source: pediatrics.pdf | page: 1", "[3] source"},
			notOut:        []string{"[4]"},
		},
		{
			name:          "chain error keeps looping",
			input:         "q1\nq2\n",
			err:           errors.New("connection refused"),
			wantQuestions: []string{"q1", "q2"},
			wantOut:       []string{"failed to generate answer: connection refused", "Goodbye!"},
		},
		{
			name:          "eof ends like exit",
			input:         "q1",
			wantQuestions: []string{"q1"},
			wantOut:       []string{"Goodbye!"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := &fakeAnswerer{err: tc.err, sources: docs(5)}
			c := &Conversation{Chain: a, Plain: true}
			var out strings.Builder

			require.NoError(t, c.Run(context.Background(), strings.NewReader(tc.input), &out))
			assert.Equal(t, tc.wantQuestions, a.questions)
			for _, w := range tc.wantOut {
				assert.Contains(t, out.String(), w)
			}
			for _, n := range tc.notOut {
				assert.NotContains(t, out.String(), n)
			}
		})
	}
}

func TestConversation_ClearResetsMemory(t *testing.T) {
	t.Parallel()
	mem := chain.NewMemory(0)
	c := &Conversation{Chain: &fakeAnswerer{}, Memory: mem, Plain: true}
	var out strings.Builder

	require.NoError(t, c.Run(context.Background(), strings.NewReader("q1\nq2\nClear\n"), &out))
	assert.Equal(t, 0, mem.Len())
	assert.Contains(t, out.String(), "history cleared")
}

func TestConversation_TruncatesLongPassages(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("热", 250)
	a := &fakeAnswerer{sources: []rag.Document{{Content: long}}}
	c := &Conversation{Chain: a, Plain: true}
	var out strings.Builder

	require.NoError(t, c.Run(context.Background(), strings.NewReader("q\n"), &out))
	assert.Contains(t, out.String(), strings.Repeat("热", 200)+"...")
	assert.NotContains(t, out.String(), strings.Repeat("热", 201))
	assert.Contains(t, out.String(), "source: unknown | page: unknown")
}

func TestConversation_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &Conversation{Chain: &fakeAnswerer{}, Plain: true}
	err := c.Run(ctx, strings.NewReader("q\n"), &strings.Builder{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearchLoop_Run(t *testing.T) {
	t.Parallel()
	r := &fakeRetriever{docs: docs(2)}
	s := &SearchLoop{Retriever: r, TopK: 4, Plain: true}
	var out strings.Builder

	require.NoError(t, s.Run(context.Background(), strings.NewReader("fever\n\nexit\nignored\n"), &out))
	assert.Equal(t, []int{4}, r.topKs)
	assert.Contains(t, out.String(), `Top 2 fragments for "fever":`)
	assert.Contains(t, out.String(), "[2] page 2 | pediatrics.pdf | score 0.500")
}

func TestSearchLoop_ErrorsAndEmpty(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	s := &SearchLoop{Retriever: &fakeRetriever{err: errors.New("qdrant down")}, Plain: true}
	require.NoError(t, s.Run(context.Background(), strings.NewReader("fever\n"), &out))
	assert.Contains(t, out.String(), "search failed: qdrant down")

	out.Reset()
	s = &SearchLoop{Retriever: &fakeRetriever{}, Plain: true}
	require.NoError(t, s.Search(context.Background(), "nothing", &out))
	assert.Contains(t, out.String(), "no matching fragments")
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab...", truncate("abc", 2))
	assert.Equal(t, "儿科...", truncate("儿科学", 2))
}
