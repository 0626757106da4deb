package chain

import (
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// DefaultPersona is the system instruction used when CHAIN_PERSONA is unset.
const DefaultPersona = `You are a pediatrician. Use the following context to answer the question at the end.
If you don't know the answer, just say that you don't know; do not try to make up an answer.
Answer in at least five sentences and keep the answer concise.`

// Template variables.
const (
	varContext     = "context"
	varQuestion    = "question"
	varChatHistory = "chat_history"
)

const condenseInstruction = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.
Reply with the standalone question only.`

const condenseUser = `Chat History:
{chat_history}
Follow Up Input: {question}
Standalone question:`

// qaTemplate builds the "stuff" prompt: persona, every retrieved passage,
// then the question.
func qaTemplate(persona string) prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(escapeBraces(persona)+"\n\n{context}"),
		schema.UserMessage("Question: {question}"),
	)
}

// condenseTemplate rewrites a follow-up question into a standalone one.
func condenseTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(condenseInstruction),
		schema.UserMessage(condenseUser),
	)
}

// formatHistory renders history as "Human:" / "Assistant:" lines.
func formatHistory(msgs []*schema.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case schema.User:
			b.WriteString("Human: ")
		case schema.Assistant:
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// escapeBraces protects literal braces in user-supplied personas from the
// FString formatter.
func escapeBraces(s string) string {
	return strings.NewReplacer("{", "{{", "}", "}}").Replace(s)
}
