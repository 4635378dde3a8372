package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService returns canned vectors.
type stubService struct {
	vectors func(texts []string) [][]float32
	err     error
	batches [][]string
}

func (s *stubService) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil || len(vs) == 0 {
		return nil, err
	}
	return vs[0], nil
}

func (s *stubService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.Embed(ctx, text)
}

func (s *stubService) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	s.batches = append(s.batches, texts)
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors(texts), nil
}

func (s *stubService) Dimensions() int   { return 3 }
func (s *stubService) Backend() Backend  { return BackendOllama }
func (s *stubService) ModelName() string { return "stub" }

func fixed(dims int) func([]string) [][]float32 {
	return func(texts []string) [][]float32 {
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = make([]float32, dims)
			out[i][0] = 1
		}
		return out
	}
}

func TestProviderLoadsLazily(t *testing.T) {
	var builds int
	p := NewProvider(func() (Service, error) {
		builds++
		return &stubService{vectors: fixed(3)}, nil
	}, 8)

	assert.False(t, p.Loaded())
	assert.Equal(t, 0, builds, "constructing a provider must not load the model")

	_, err := p.Encode(context.Background(), []string{"a"})
	require.NoError(t, err)
	_, err = p.EncodeQuery(context.Background(), "b")
	require.NoError(t, err)

	assert.True(t, p.Loaded())
	assert.Equal(t, 1, builds)
}

func TestProviderConcurrentLoad(t *testing.T) {
	var mu sync.Mutex
	var builds int
	p := NewProvider(func() (Service, error) {
		mu.Lock()
		builds++
		mu.Unlock()
		return &stubService{vectors: fixed(3)}, nil
	}, 8)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.EnsureLoaded(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, builds)
}

func TestProviderRetriesFailedLoad(t *testing.T) {
	attempts := 0
	p := NewProvider(func() (Service, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("model server down")
		}
		return &stubService{vectors: fixed(3)}, nil
	}, 8)

	_, err := p.EnsureLoaded(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model server down")

	_, err = p.EnsureLoaded(context.Background())
	require.NoError(t, err)
}

func TestProviderBatches(t *testing.T) {
	svc := &stubService{vectors: fixed(3)}
	p := NewStaticProvider(svc)
	p.batchSize = 2

	vectors, err := p.Encode(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)

	assert.Len(t, vectors, 5)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, svc.batches)
	assert.Equal(t, 3, p.Dimensions())
}

func TestProviderRejectsBadVectors(t *testing.T) {
	t.Run("zero vectors for non-empty input", func(t *testing.T) {
		p := NewStaticProvider(&stubService{vectors: func([]string) [][]float32 { return nil }})

		_, err := p.Encode(context.Background(), []string{"text"})
		assert.ErrorIs(t, err, ErrEmbedding)
	})

	t.Run("empty vector", func(t *testing.T) {
		p := NewStaticProvider(&stubService{vectors: func(texts []string) [][]float32 {
			return make([][]float32, len(texts))
		}})

		_, err := p.Encode(context.Background(), []string{"text"})
		assert.ErrorIs(t, err, ErrEmbedding)
	})

	t.Run("dimension change between calls", func(t *testing.T) {
		svc := &stubService{vectors: fixed(3)}
		p := NewStaticProvider(svc)

		_, err := p.Encode(context.Background(), []string{"a"})
		require.NoError(t, err)

		svc.vectors = fixed(4)
		_, err = p.EncodeQuery(context.Background(), "b")
		assert.ErrorIs(t, err, ErrDimensionMismatch)
		assert.ErrorIs(t, err, ErrEmbedding)
	})

	t.Run("backend error", func(t *testing.T) {
		p := NewStaticProvider(&stubService{err: errors.New("boom")})

		_, err := p.Encode(context.Background(), []string{"a"})
		assert.ErrorIs(t, err, ErrEmbedding)
		assert.Contains(t, err.Error(), "boom")
	})
}

func TestProviderPinDimensions(t *testing.T) {
	p := NewStaticProvider(&stubService{vectors: fixed(4)})

	require.NoError(t, p.PinDimensions(3))
	require.NoError(t, p.PinDimensions(3))
	assert.ErrorIs(t, p.PinDimensions(5), ErrDimensionMismatch)

	_, err := p.Encode(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestProviderUnpin(t *testing.T) {
	p := NewStaticProvider(&stubService{vectors: fixed(4)})

	require.NoError(t, p.PinDimensions(3))
	p.Unpin()
	assert.Equal(t, 0, p.Dimensions())

	_, err := p.Encode(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 4, p.Dimensions())
}

func TestProviderEmptyInput(t *testing.T) {
	var builds int
	p := NewProvider(func() (Service, error) {
		builds++
		return &stubService{vectors: fixed(3)}, nil
	}, 8)

	vectors, err := p.Encode(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Equal(t, 0, builds)
}

func TestProviderWithOpenAICompatibleServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-MiniLM-L6-v2", req.Model)

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(i), 1, 0.5},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	defer server.Close()

	p := NewProvider(func() (Service, error) {
		return NewOpenAIService("", "all-MiniLM-L6-v2", server.URL, 0)
	}, 16)

	vectors, err := p.Encode(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 1, 0.5}, vectors[1])
	assert.Equal(t, 3, p.Dimensions())

	name, err := p.ModelName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "all-MiniLM-L6-v2", name)
}
