package chain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/medqa-go/internal/rag"
)

// scriptedModel answers condense prompts with condenseReply and everything
// else with answer, recording every prompt it receives.
type scriptedModel struct {
	mu            sync.Mutex
	prompts       [][]*schema.Message
	condenseReply string
	answer        string
	chunks        []string
	err           error
}

func (m *scriptedModel) reply(input []*schema.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, input)
	if m.err != nil {
		return "", m.err
	}
	if strings.Contains(input[0].Content, "standalone question") {
		return m.condenseReply, nil
	}
	return m.answer, nil
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	text, err := m.reply(input)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(text, nil), nil
}

func (m *scriptedModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	text, err := m.reply(input)
	if err != nil {
		return nil, err
	}
	parts := m.chunks
	if len(parts) == 0 {
		parts = []string{text}
	}
	msgs := make([]*schema.Message, len(parts))
	for i, p := range parts {
		msgs[i] = schema.AssistantMessage(p, nil)
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (m *scriptedModel) last() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompts[len(m.prompts)-1]
}

type stubRetriever struct {
	mu      sync.Mutex
	docs    []rag.Document
	err     error
	queries []string
	topKs   []int
}

func (r *stubRetriever) Retrieve(_ context.Context, query string, topK int) ([]rag.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	r.topKs = append(r.topKs, topK)
	if r.err != nil {
		return nil, r.err
	}
	if topK < len(r.docs) {
		return r.docs[:topK], nil
	}
	return r.docs, nil
}

func corpus() []rag.Document {
	return []rag.Document{
		{ID: "1", Content: "Fever in infants under 3 months needs urgent evaluation.", Source: "pediatrics.pdf", Page: 12, Score: 0.91},
		{ID: "2", Content: "Febrile seizures usually occur between 6 months and 5 years.", Source: "pediatrics.pdf", Page: 48, Score: 0.87},
		{ID: "3", Content: "Oral rehydration is first line for mild dehydration.", Source: "pumpkin_book.pdf", Page: 3, Score: 0.80},
		{ID: "4", Content: "Unrelated passage.", Source: "pumpkin_book.pdf", Page: 9, Score: 0.40},
	}
}

func newTestChain(t *testing.T, m *scriptedModel, r *stubRetriever, topK int) *Chain {
	t.Helper()
	c, err := New(context.Background(), &Config{Model: m, Retriever: r, TopK: topK})
	require.NoError(t, err)
	return c
}

func Test_New_Validation(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), &Config{Retriever: &stubRetriever{}})
	assert.Error(t, err)
	_, err = New(context.Background(), &Config{Model: &scriptedModel{}})
	assert.Error(t, err)

	c, err := New(context.Background(), &Config{Model: &scriptedModel{}, Retriever: &stubRetriever{}})
	require.NoError(t, err)
	assert.Equal(t, DefaultTopK, c.TopK())
}

func Test_Invoke_EmptyQuestion(t *testing.T) {
	t.Parallel()
	m := &scriptedModel{}
	c := newTestChain(t, m, &stubRetriever{}, 3)

	_, err := c.Invoke(context.Background(), NewMemory(0), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Empty(t, m.prompts, "no model call for a blank question")
}

func Test_Invoke_FirstTurnSkipsCondense(t *testing.T) {
	t.Parallel()
	m := &scriptedModel{answer: "  Fever has many causes.  "}
	r := &stubRetriever{docs: corpus()}
	c := newTestChain(t, m, r, 3)
	mem := NewMemory(0)

	res, err := c.Invoke(context.Background(), mem, "Why does my child have a fever?")
	require.NoError(t, err)

	assert.Equal(t, "Fever has many causes.", res.Answer)
	assert.Equal(t, "Why does my child have a fever?", res.StandaloneQuestion)
	assert.Len(t, res.Sources, 3)
	assert.Equal(t, "pediatrics.pdf", res.Sources[0].Source)
	assert.Equal(t, 12, res.Sources[0].Page)
	assert.Equal(t, []int{3}, r.topKs)
	assert.Len(t, m.prompts, 1, "only the answer call on the first turn")

	prompt := m.last()
	require.Len(t, prompt, 2)
	assert.Contains(t, prompt[0].Content, "You are a pediatrician")
	assert.Contains(t, prompt[0].Content, corpus()[0].Content+"\n\n"+corpus()[1].Content)
	assert.NotContains(t, prompt[0].Content, "Unrelated passage.")
	assert.Equal(t, "Question: Why does my child have a fever?", prompt[1].Content)

	assert.Equal(t, 1, mem.Len())
}

func Test_Invoke_FollowUpIsCondensed(t *testing.T) {
	t.Parallel()
	m := &scriptedModel{answer: "answer", condenseReply: "What causes febrile seizures in toddlers?"}
	r := &stubRetriever{docs: corpus()}
	c := newTestChain(t, m, r, 2)
	mem := NewMemory(0)
	mem.Add("What are febrile seizures?", "Seizures triggered by fever.")

	res, err := c.Invoke(context.Background(), mem, "What causes them?")
	require.NoError(t, err)

	assert.Equal(t, "What causes them?", res.Question)
	assert.Equal(t, "What causes febrile seizures in toddlers?", res.StandaloneQuestion)
	assert.Equal(t, []string{"What causes febrile seizures in toddlers?"}, r.queries)
	require.Len(t, m.prompts, 2)

	condense := m.prompts[0]
	assert.Contains(t, condense[1].Content, "Human: What are febrile seizures?\nAssistant: Seizures triggered by fever.")
	assert.Contains(t, condense[1].Content, "Follow Up Input: What causes them?")

	assert.Equal(t, 2, mem.Len())
	history := mem.Messages()
	assert.Equal(t, "What causes them?", history[2].Content, "memory keeps the question as asked")
}

func Test_Invoke_NilMemory(t *testing.T) {
	t.Parallel()
	m := &scriptedModel{answer: "ok"}
	c := newTestChain(t, m, &stubRetriever{docs: corpus()}, 1)

	res, err := c.Invoke(context.Background(), nil, "rash with fever")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Answer)
	assert.Len(t, res.Sources, 1)
}

func Test_Invoke_Errors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")

	t.Run("retriever", func(t *testing.T) {
		t.Parallel()
		m := &scriptedModel{answer: "x"}
		c := newTestChain(t, m, &stubRetriever{err: boom}, 3)
		mem := NewMemory(0)
		_, err := c.Invoke(context.Background(), mem, "q")
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, mem.Len())
	})

	t.Run("model", func(t *testing.T) {
		t.Parallel()
		c := newTestChain(t, &scriptedModel{err: boom}, &stubRetriever{docs: corpus()}, 3)
		mem := NewMemory(0)
		_, err := c.Invoke(context.Background(), mem, "q")
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, mem.Len())
	})
}

func Test_Stream_WritesChunks(t *testing.T) {
	t.Parallel()
	m := &scriptedModel{chunks: []string{"Keep ", "the child ", "hydrated. "}}
	c := newTestChain(t, m, &stubRetriever{docs: corpus()}, 3)
	mem := NewMemory(0)

	var out strings.Builder
	res, err := c.Stream(context.Background(), mem, "diarrhoea in a toddler", &out)
	require.NoError(t, err)

	assert.Equal(t, "Keep the child hydrated. ", out.String())
	assert.Equal(t, "Keep the child hydrated.", res.Answer)
	assert.Len(t, res.Sources, 3)
	assert.Equal(t, 1, mem.Len())
}

func Test_CustomPersonaWithBraces(t *testing.T) {
	t.Parallel()
	m := &scriptedModel{answer: "ok"}
	c, err := New(context.Background(), &Config{
		Model:     m,
		Retriever: &stubRetriever{docs: corpus()},
		Persona:   "You are a neonatologist {strict}.",
	})
	require.NoError(t, err)

	_, err = c.Invoke(context.Background(), nil, "jaundice")
	require.NoError(t, err)
	assert.Contains(t, m.last()[0].Content, "You are a neonatologist {strict}.")
}
