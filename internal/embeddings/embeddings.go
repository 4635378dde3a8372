// Package embeddings turns document and query text into vectors.
package embeddings

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nickcecere/docrag/internal/config"
)

// Backend identifies the service that computes embeddings.
type Backend string

const (
	BackendOllama Backend = "ollama"
	BackendOpenAI Backend = "openai"
)

// Service defines the interface for embedding services.
type Service interface {
	// Embed generates an embedding for the given text (for documents).
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedQuery generates an embedding for a query (may use different task prefix).
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimensions for this model.
	Dimensions() int

	// Backend returns the backend name.
	Backend() Backend

	// ModelName returns the model name.
	ModelName() string
}

// dimensionTracker holds the vector width a service reports. It starts at
// the known width for the model and follows what the backend returns, and
// may be read while requests are in flight.
type dimensionTracker struct {
	n atomic.Int64
}

func (d *dimensionTracker) get() int {
	return int(d.n.Load())
}

func (d *dimensionTracker) set(n int) {
	d.n.Store(int64(n))
}

// observe records the width of the first non-empty vector.
func (d *dimensionTracker) observe(vectors [][]float32) {
	for _, v := range vectors {
		if len(v) > 0 {
			d.set(len(v))
			return
		}
	}
}

// Known model dimensions
var modelDimensions = map[string]int{
	// Ollama models
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,
	"bge-m3":                 1024,

	// sentence-transformers names, as served by LM Studio and friends
	"all-MiniLM-L6-v2":                       384,
	"sentence-transformers/all-MiniLM-L6-v2": 384,

	// OpenAI models
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// GetModelDimensions returns the known dimensions for a model, or 0 if unknown.
func GetModelDimensions(model string) int {
	return modelDimensions[model]
}

// NewService creates an embedding service based on the configuration.
func NewService(cfg *config.Config) (Service, error) {
	switch cfg.Embeddings.Provider {
	case "ollama":
		return NewOllamaService(
			cfg.Embeddings.Ollama.URL,
			cfg.Embeddings.Ollama.Model,
		)
	case "openai":
		return NewOpenAIService(
			cfg.Embeddings.OpenAI.APIKey,
			cfg.Embeddings.OpenAI.Model,
			cfg.Embeddings.OpenAI.BaseURL,
			cfg.Embeddings.OpenAI.Dimensions,
		)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embeddings.Provider)
	}
}
