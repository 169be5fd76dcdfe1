package engine

import (
	"context"
	"log"
	"strings"

	"github.com/heymuze/muze/internal/llm"
)

// BatchQuestions combines several check-in questions into one
// conversational message. A single question passes through untouched; a
// generation failure falls back to joining the raw questions.
func (e *Engine) BatchQuestions(ctx context.Context, displayName string, questions []string, corpus string) string {
	if len(questions) == 0 {
		return ""
	}
	if len(questions) == 1 {
		return questions[0]
	}

	fallback := strings.Join(questions, "\n\n")
	if e.LLM == nil {
		return fallback
	}

	excerpt := corpus
	if len(excerpt) > 800 {
		excerpt = excerpt[:800]
	}

	resp, err := e.LLM.Complete(ctx, llm.BatchMessagePrompt(displayName, questions, excerpt))
	if err != nil {
		log.Printf("batch questions: %v", err)
		return fallback
	}
	message := strings.TrimSpace(resp.Content)
	if message == "" {
		return fallback
	}
	return message
}
