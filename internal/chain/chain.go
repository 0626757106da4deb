// Package chain implements the conversational retrieval chain: an optional
// condense step that rewrites a follow-up question using chat history, a
// retrieval step against the vector store, and a "stuff" step that puts
// every retrieved passage into one prompt for the chat model. Each step is
// an eino compose runnable so global callbacks (Langfuse) see every call.
package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/medqa-go/internal/logging"
	"github.com/54b3r/medqa-go/internal/rag"
)

// DefaultTopK is the number of passages retrieved per question.
const DefaultTopK = 3

// ErrEmptyQuestion is returned when the question is blank.
var ErrEmptyQuestion = errors.New("chain: question must not be empty")

// Config holds the dependencies required to construct a Chain.
type Config struct {
	// Model generates both the standalone question and the answer.
	Model model.BaseChatModel

	// Retriever fetches passages for the standalone question.
	Retriever rag.Retriever

	// TopK is the number of passages stuffed into the prompt (default 3).
	TopK int

	// Persona replaces DefaultPersona when non-empty.
	Persona string
}

// Result is the outcome of one chain invocation.
type Result struct {
	// Question is the question as asked.
	Question string
	// StandaloneQuestion is the condensed question used for retrieval. It
	// equals Question when there was no history.
	StandaloneQuestion string
	// Answer is the trimmed model answer.
	Answer string
	// Sources are the retrieved passages, best first.
	Sources []rag.Document
}

// Chain is a compiled conversational retrieval chain. It is safe for
// concurrent use; conversation state lives in the Memory passed per call.
type Chain struct {
	condense compose.Runnable[map[string]any, *schema.Message]
	retrieve compose.Runnable[string, []*schema.Document]
	qa       compose.Runnable[map[string]any, *schema.Message]
	topK     int
}

// New compiles the chain's runnables.
func New(ctx context.Context, cfg *Config) (*Chain, error) {
	if cfg == nil || cfg.Model == nil {
		return nil, fmt.Errorf("chain: Model must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("chain: Retriever must not be nil")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	persona := cfg.Persona
	if strings.TrimSpace(persona) == "" {
		persona = DefaultPersona
	}

	condense, err := compose.NewChain[map[string]any, *schema.Message]().
		AppendChatTemplate(condenseTemplate()).
		AppendChatModel(cfg.Model).
		Compile(ctx, compose.WithGraphName("condense_question"))
	if err != nil {
		return nil, fmt.Errorf("chain: compile condense: %w", err)
	}

	retrieve, err := compose.NewChain[string, []*schema.Document]().
		AppendRetriever(rag.NewEinoRetriever(cfg.Retriever, topK)).
		Compile(ctx, compose.WithGraphName("retrieve"))
	if err != nil {
		return nil, fmt.Errorf("chain: compile retrieve: %w", err)
	}

	qa, err := compose.NewChain[map[string]any, *schema.Message]().
		AppendChatTemplate(qaTemplate(persona)).
		AppendChatModel(cfg.Model).
		Compile(ctx, compose.WithGraphName("stuff_qa"))
	if err != nil {
		return nil, fmt.Errorf("chain: compile qa: %w", err)
	}

	return &Chain{condense: condense, retrieve: retrieve, qa: qa, topK: topK}, nil
}

// TopK returns the number of passages retrieved per question.
func (c *Chain) TopK() int { return c.topK }

// Invoke answers question. When mem is non-nil its history drives the
// condense step and the completed turn is appended to it.
func (c *Chain) Invoke(ctx context.Context, mem *Memory, question string) (*Result, error) {
	res, vars, err := c.prepare(ctx, mem, question)
	if err != nil {
		return nil, err
	}

	msg, err := c.qa.Invoke(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("chain: generate answer: %w", err)
	}
	res.Answer = strings.TrimSpace(msg.Content)

	if mem != nil {
		mem.Add(res.Question, res.Answer)
	}
	return res, nil
}

// Stream answers question like Invoke but writes answer chunks to w as the
// model produces them. The returned Result carries the full answer.
func (c *Chain) Stream(ctx context.Context, mem *Memory, question string, w io.Writer) (*Result, error) {
	res, vars, err := c.prepare(ctx, mem, question)
	if err != nil {
		return nil, err
	}

	sr, err := c.qa.Stream(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("chain: stream answer: %w", err)
	}
	defer sr.Close()

	var buf strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("chain: stream receive: %w", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		buf.WriteString(chunk.Content)
		if _, err := io.WriteString(w, chunk.Content); err != nil {
			return nil, fmt.Errorf("chain: write: %w", err)
		}
	}
	res.Answer = strings.TrimSpace(buf.String())

	if mem != nil {
		mem.Add(res.Question, res.Answer)
	}
	return res, nil
}

// prepare runs the condense and retrieval steps and returns the partially
// filled Result together with the QA template variables.
func (c *Chain) prepare(ctx context.Context, mem *Memory, question string) (*Result, map[string]any, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return nil, nil, ErrEmptyQuestion
	}
	log := logging.FromContext(ctx)

	standalone := q
	if mem != nil && mem.Len() > 0 {
		msg, err := c.condense.Invoke(ctx, map[string]any{
			varChatHistory: formatHistory(mem.Messages()),
			varQuestion:    q,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("chain: condense question: %w", err)
		}
		if s := strings.TrimSpace(msg.Content); s != "" {
			standalone = s
		}
		log.Debug("chain: condensed question", slog.String("standalone", standalone))
	}

	sdocs, err := c.retrieve.Invoke(ctx, standalone)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: retrieve: %w", err)
	}
	sources := make([]rag.Document, 0, len(sdocs))
	passages := make([]string, 0, len(sdocs))
	for _, sd := range sdocs {
		sources = append(sources, rag.FromSchema(sd))
		passages = append(passages, sd.Content)
	}
	log.Debug("chain: retrieved passages", slog.Int("count", len(sources)), slog.Int("top_k", c.topK))

	res := &Result{Question: q, StandaloneQuestion: standalone, Sources: sources}
	vars := map[string]any{
		varContext:  strings.Join(passages, "\n\n"),
		varQuestion: standalone,
	}
	return res, vars, nil
}
