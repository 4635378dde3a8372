package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/nickcecere/docrag/internal/config"
)

var (
	// ErrEmbedding is returned when the model produces no usable vectors.
	ErrEmbedding = errors.New("embedding failed")

	// ErrDimensionMismatch is returned when a vector's length differs from the pinned dimension.
	ErrDimensionMismatch = fmt.Errorf("%w: dimension mismatch", ErrEmbedding)
)

// Factory builds the embedding service on first use.
type Factory func() (Service, error)

// Provider owns one embedding service for the life of the process. Ingestion
// and queries share it so document and query vectors come from the same model.
// The service is built by EnsureLoaded, not by NewProvider.
type Provider struct {
	factory   Factory
	batchSize int

	mu   sync.Mutex
	svc  Service
	dims int
}

// NewProvider creates a provider that will build its service with factory.
func NewProvider(factory Factory, batchSize int) *Provider {
	if batchSize <= 0 {
		batchSize = config.DefaultEmbedBatchSize
	}
	return &Provider{factory: factory, batchSize: batchSize}
}

// NewProviderFromConfig creates a provider for the configured backend.
func NewProviderFromConfig(cfg *config.Config) *Provider {
	return NewProvider(func() (Service, error) {
		return NewService(cfg)
	}, cfg.Embeddings.BatchSize)
}

// NewStaticProvider wraps an already constructed service.
func NewStaticProvider(svc Service) *Provider {
	return NewProvider(func() (Service, error) { return svc, nil }, 0)
}

// EnsureLoaded builds the service if needed and returns it. A failed build
// is not cached, so the next call tries again.
func (p *Provider) EnsureLoaded(ctx context.Context) (Service, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.svc != nil {
		return p.svc, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	svc, err := p.factory()
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding model: %w", err)
	}

	log.Debug("Loaded embedding model", "backend", svc.Backend(), "model", svc.ModelName())
	p.svc = svc
	return svc, nil
}

// Loaded reports whether the service has been built.
func (p *Provider) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.svc != nil
}

// Dimensions returns the pinned vector dimension, or 0 before the first
// successful encode or PinDimensions call.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dims
}

// PinDimensions fixes the expected vector dimension, typically from an
// existing collection. Pinning a different value later is an error.
func (p *Provider) PinDimensions(dims int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if dims <= 0 {
		return fmt.Errorf("invalid dimension %d", dims)
	}
	if p.dims != 0 && p.dims != dims {
		return fmt.Errorf("%w: pinned %d, requested %d", ErrDimensionMismatch, p.dims, dims)
	}
	p.dims = dims
	return nil
}

// Unpin forgets the pinned dimension, for when the collection that fixed it
// has been dropped.
func (p *Provider) Unpin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dims = 0
}

// ModelName returns the model name, loading the service if needed.
func (p *Provider) ModelName(ctx context.Context) (string, error) {
	svc, err := p.EnsureLoaded(ctx)
	if err != nil {
		return "", err
	}
	return svc.ModelName(), nil
}

// Encode embeds document texts in batches. Every returned vector has the
// pinned dimension.
func (p *Provider) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	svc, err := p.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))

		batch, err := svc.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbedding, len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}

	if err := p.check(vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

// EncodeQuery embeds a search query.
func (p *Provider) EncodeQuery(ctx context.Context, text string) ([]float32, error) {
	svc, err := p.EnsureLoaded(ctx)
	if err != nil {
		return nil, err
	}

	vector, err := svc.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}

	if err := p.check([][]float32{vector}); err != nil {
		return nil, err
	}
	return vector, nil
}

// check rejects empty vectors and pins or enforces the dimension.
func (p *Provider) check(vectors [][]float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: empty vector at position %d", ErrEmbedding, i)
		}
		if p.dims == 0 {
			p.dims = len(v)
			log.Debug("Pinned embedding dimension", "dimensions", p.dims)
		}
		if len(v) != p.dims {
			return fmt.Errorf("%w: vector %d has %d dimensions, expected %d", ErrDimensionMismatch, i, len(v), p.dims)
		}
	}
	return nil
}
