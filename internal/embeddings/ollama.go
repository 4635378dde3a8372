package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// defaultOllamaURL is where a local Ollama listens.
const defaultOllamaURL = "http://localhost:11434"

// errNoEmbedding is returned when a single-text request comes back empty.
var errNoEmbedding = errors.New("no embedding returned")

// Task prefixes for specific models
var taskPrefixes = map[string]struct {
	document string
	query    string
}{
	"nomic-embed-text": {
		document: "search_document: ",
		query:    "search_query: ",
	},
	"mxbai-embed-large": {
		query: "Represent this sentence for searching relevant passages: ",
	},
}

// OllamaService embeds text with a model served by Ollama's /api/embed.
// It is safe for concurrent use.
type OllamaService struct {
	baseURL string
	model   string
	client  *http.Client
	dims    dimensionTracker
}

type ollamaEmbedRequest struct {
	Model    string   `json:"model"`
	Input    []string `json:"input"`
	Truncate bool     `json:"truncate,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaService creates a new Ollama embedding service. Unknown models
// start at 768 dimensions until the first response says otherwise.
func NewOllamaService(baseURL, model string) (*OllamaService, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}

	s := &OllamaService{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}

	dims := GetModelDimensions(model)
	if dims == 0 {
		dims = 768
		log.Debug("Unknown model dimensions, defaulting", "model", model, "dimensions", dims)
	}
	s.dims.set(dims)

	return s, nil
}

// Embed generates an embedding for document text.
func (s *OllamaService) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.one(ctx, text, false)
}

// EmbedQuery generates an embedding for query text.
func (s *OllamaService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.one(ctx, text, true)
}

// EmbedBatch generates embeddings for multiple document texts.
func (s *OllamaService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return s.embed(ctx, texts, false)
}

// Dimensions returns the width of the most recent response, or the
// model's known width before any request.
func (s *OllamaService) Dimensions() int {
	return s.dims.get()
}

// Backend returns the backend name.
func (s *OllamaService) Backend() Backend {
	return BackendOllama
}

// ModelName returns the model name.
func (s *OllamaService) ModelName() string {
	return s.model
}

// applyPrefix applies the appropriate task prefix for the model.
func (s *OllamaService) applyPrefix(text string, isQuery bool) string {
	prefixes, ok := taskPrefixes[s.model]
	if !ok {
		return text
	}

	if isQuery {
		return prefixes.query + text
	}
	return prefixes.document + text
}

func (s *OllamaService) one(ctx context.Context, text string, isQuery bool) ([]float32, error) {
	vectors, err := s.embed(ctx, []string{text}, isQuery)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errNoEmbedding
	}
	return vectors[0], nil
}

// embed prefixes the texts for their task and posts them in one request.
func (s *OllamaService) embed(ctx context.Context, texts []string, isQuery bool) ([][]float32, error) {
	input := make([]string, len(texts))
	for i, text := range texts {
		input[i] = s.applyPrefix(text, isQuery)
	}

	body, err := json.Marshal(ollamaEmbedRequest{
		Model:    s.model,
		Input:    input,
		Truncate: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Debug("Requesting embeddings from Ollama", "model", s.model, "count", len(texts), "query", isQuery)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	s.dims.observe(result.Embeddings)
	return result.Embeddings, nil
}
