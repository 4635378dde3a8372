// Package embedtest provides a deterministic embedding service for tests.
package embedtest

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/nickcecere/docrag/internal/embeddings"
)

// Embedder hashes lowercase words into a fixed number of buckets and
// normalises the counts, so texts sharing words land close together.
type Embedder struct {
	Dims int
	Err  error // returned by every call when set

	mu    sync.Mutex
	calls int
}

// New returns an embedder producing vectors of the given dimension.
func New(dims int) *Embedder {
	return &Embedder{Dims: dims}
}

// Calls returns how many requests were made.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.Embed(ctx, text)
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if e.Err != nil {
		return nil, e.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = Vector(text, e.Dims)
	}
	return out, nil
}

func (e *Embedder) Dimensions() int             { return e.Dims }
func (e *Embedder) Backend() embeddings.Backend { return embeddings.BackendOllama }
func (e *Embedder) ModelName() string           { return "bag-of-words" }

// Vector returns the normalised bag-of-words vector for text.
func Vector(text string, dims int) []float32 {
	v := make([]float32, dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		v[xxhash.Sum64String(w)%uint64(dims)]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		// Keep empty text off the zero vector, which has no cosine distance
		v[0] = 1
		return v
	}

	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

var _ embeddings.Service = (*Embedder)(nil)
