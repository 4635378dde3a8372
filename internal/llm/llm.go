// Package llm provides chat model clients for answering questions over
// retrieved document context.
package llm

import (
	"context"
	"fmt"

	"github.com/nickcecere/docrag/internal/config"
)

// Provider represents an LLM provider type.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai" // also LM Studio and other compatible servers
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// CompletionOptions configures the completion request.
type CompletionOptions struct {
	// Temperature controls randomness (0-1).
	Temperature float64

	// MaxTokens limits the response length.
	MaxTokens int

	// Stream enables streaming responses.
	Stream bool
}

// DefaultCompletionOptions returns sensible defaults.
func DefaultCompletionOptions() CompletionOptions {
	return CompletionOptions{
		Temperature: config.DefaultTemperature,
		MaxTokens:   config.DefaultMaxTokens,
		Stream:      false,
	}
}

// CompletionOptionsFromConfig returns the configured sampling options.
func CompletionOptionsFromConfig(cfg *config.Config) CompletionOptions {
	opts := DefaultCompletionOptions()
	if cfg.LLM.Temperature >= 0 {
		opts.Temperature = cfg.LLM.Temperature
	}
	if cfg.LLM.MaxTokens > 0 {
		opts.MaxTokens = cfg.LLM.MaxTokens
	}
	return opts
}

// Service defines the interface for LLM services.
type Service interface {
	// Complete generates a completion for the given messages.
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)

	// CompleteStream generates a streaming completion.
	CompleteStream(ctx context.Context, messages []Message, opts CompletionOptions) (<-chan string, <-chan error)

	// Ping checks that the server is reachable by listing its models.
	Ping(ctx context.Context) error

	// Provider returns the provider name.
	Provider() Provider

	// ModelName returns the model name.
	ModelName() string
}

// NewService creates an LLM service based on the configuration.
func NewService(cfg *config.Config) (Service, error) {
	switch cfg.LLM.Provider {
	case "ollama":
		return NewOllamaService(
			cfg.LLM.Ollama.URL,
			cfg.LLM.Ollama.Model,
		)
	case "openai":
		return NewOpenAIService(
			cfg.LLM.OpenAI.APIKey,
			cfg.LLM.OpenAI.Model,
			cfg.LLM.OpenAI.BaseURL,
		)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}
}
