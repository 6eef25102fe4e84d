package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"

	"eco-counselor/internal/models"
)

// ErrGeneration marks completion-service failures, timeouts included.
var ErrGeneration = errors.New("answer generation failed")

// Generator is the completion service.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent) (string, error)
}

// Engine produces context-grounded answers that carry the caller's turn
// history as conversational memory.
type Engine struct {
	llm            Generator
	answerPrompt   prompts.PromptTemplate
	condensePrompt prompts.PromptTemplate
}

func NewEngine(llm Generator) *Engine {
	return &Engine{
		llm:            llm,
		answerPrompt:   prompts.NewPromptTemplate(models.AnswerSystemTemplate, []string{"context"}),
		condensePrompt: prompts.NewPromptTemplate(models.CondenseQuestionTemplate, []string{"chat_history", "question"}),
	}
}

// Answer builds system(context) + history + query and returns the model's text.
func (e *Engine) Answer(ctx context.Context, query string, history []models.Turn, chunks []string) (string, error) {
	system, err := e.answerPrompt.Format(map[string]any{
		"context": strings.Join(chunks, models.ContextSeparator),
	})
	if err != nil {
		return "", fmt.Errorf("failed to format answer prompt: %w", err)
	}

	messages := make([]llms.MessageContent, 0, 2*len(history)+2)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	for _, turn := range history {
		messages = append(messages,
			llms.TextParts(llms.ChatMessageTypeHuman, turn.UserQuery),
			llms.TextParts(llms.ChatMessageTypeAI, turn.AIResponse),
		)
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, query))

	answer, err := e.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return answer, nil
}

// Condense rephrases a follow-up into a standalone question using history.
// With no history the query is returned unchanged.
func (e *Engine) Condense(ctx context.Context, query string, history []models.Turn) (string, error) {
	if len(history) == 0 {
		return query, nil
	}
	prompt, err := e.condensePrompt.Format(map[string]any{
		"chat_history": formatHistory(history),
		"question":     query,
	})
	if err != nil {
		return "", fmt.Errorf("failed to format condense prompt: %w", err)
	}

	standalone, err := e.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	standalone = strings.TrimSpace(standalone)
	if standalone == "" {
		return query, nil
	}
	return standalone, nil
}

func formatHistory(history []models.Turn) string {
	var sb strings.Builder
	for _, turn := range history {
		sb.WriteString("\nHuman: ")
		sb.WriteString(turn.UserQuery)
		sb.WriteString("\nAssistant: ")
		sb.WriteString(turn.AIResponse)
	}
	return sb.String()
}
