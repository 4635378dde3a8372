package llm

import (
	"context"
	"fmt"
	"strings"
)

// DefaultRole opens the system prompt.
const DefaultRole = "You are an expert in your field and help the user with their questions."

// FallbackPrompt is the system prompt used when retrieval found no context.
const FallbackPrompt = "You are a helpful AI assistant. Answer the user's question based on your knowledge."

// emptyAnswer replaces a blank model response.
const emptyAnswer = "Sorry, I couldn't generate a response. Please try again."

// SystemPrompt wraps a retrieved context block in answering instructions.
// An empty context yields FallbackPrompt.
func SystemPrompt(role, contextText string) string {
	if strings.TrimSpace(contextText) == "" {
		return FallbackPrompt
	}
	if role == "" {
		role = DefaultRole
	}

	return fmt.Sprintf(`%s

Context from documents:
%s

Instructions:
- Use the context above to give accurate and relevant answers
- If the context does not contain the information needed, say so clearly
- Be helpful and informative
- Cite the relevant documents when appropriate`, role, contextText)
}

// QAService answers questions with a chat model, grounding them in a
// retrieved context block.
type QAService struct {
	llm Service
}

// QAOptions configures the Q&A generation.
type QAOptions struct {
	// Role replaces DefaultRole at the top of the system prompt.
	Role string

	// Temperature controls creativity (0-1).
	Temperature float64

	// MaxTokens limits the response length.
	MaxTokens int
}

// QAOptionsFromCompletion copies sampling options into QAOptions.
func QAOptionsFromCompletion(opts CompletionOptions) QAOptions {
	return QAOptions{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
}

// QAResult contains the answer and whether document context was used.
type QAResult struct {
	Answer      string `json:"answer"`
	UsedContext bool   `json:"used_context"`
}

// NewQAService creates a new Q&A service.
func NewQAService(llm Service) *QAService {
	return &QAService{llm: llm}
}

// Messages builds the chat messages for a question.
func (qa *QAService) Messages(question, contextText string, opts QAOptions) []Message {
	return []Message{
		{Role: "system", Content: SystemPrompt(opts.Role, contextText)},
		{Role: "user", Content: question},
	}
}

// Answer generates an answer to the question. An empty contextText falls
// back to a context-free prompt.
func (qa *QAService) Answer(ctx context.Context, question, contextText string, opts QAOptions) (*QAResult, error) {
	answer, err := qa.llm.Complete(ctx, qa.Messages(question, contextText, opts), CompletionOptions{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	if strings.TrimSpace(answer) == "" {
		answer = emptyAnswer
	}

	return &QAResult{
		Answer:      answer,
		UsedContext: strings.TrimSpace(contextText) != "",
	}, nil
}

// AnswerStream generates a streaming answer.
func (qa *QAService) AnswerStream(ctx context.Context, question, contextText string, opts QAOptions) (<-chan string, <-chan error) {
	return qa.llm.CompleteStream(ctx, qa.Messages(question, contextText, opts), CompletionOptions{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      true,
	})
}
