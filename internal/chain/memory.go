package chain

import (
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/medqa-go/internal/budget"
)

// DefaultHistoryMaxTokens bounds the chat history carried into the condense
// step.
const DefaultHistoryMaxTokens = 2000

// Memory is an in-process buffer of question/answer turns. It is never
// persisted; a restart starts a fresh conversation.
type Memory struct {
	mu        sync.Mutex
	msgs      []*schema.Message
	maxTokens int
}

// NewMemory returns an empty Memory whose history is trimmed oldest-first to
// maxTokens estimated tokens. maxTokens <= 0 selects DefaultHistoryMaxTokens.
func NewMemory(maxTokens int) *Memory {
	if maxTokens <= 0 {
		maxTokens = DefaultHistoryMaxTokens
	}
	return &Memory{maxTokens: maxTokens}
}

// Add appends one completed turn.
func (m *Memory) Add(question, answer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, schema.UserMessage(question), schema.AssistantMessage(answer, nil))
	m.msgs = trimTurns(m.msgs, m.maxTokens)
}

// Messages returns a copy of the retained history, oldest first.
func (m *Memory) Messages() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*schema.Message, len(m.msgs))
	copy(out, m.msgs)
	return out
}

// Len returns the number of retained turns.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs) / 2
}

// Clear drops all history.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = nil
}

// trimTurns drops the oldest messages until msgs fits maxTokens, then drops
// a leading assistant message so the history always starts on a user turn.
func trimTurns(msgs []*schema.Message, maxTokens int) []*schema.Message {
	msgs = budget.TrimHistory(nil, msgs, maxTokens)
	if len(msgs) > 0 && msgs[0].Role == schema.Assistant {
		msgs = msgs[1:]
	}
	return msgs
}
