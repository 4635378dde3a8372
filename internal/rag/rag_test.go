package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/embeddings"
	"github.com/nickcecere/docrag/internal/embeddings/embedtest"
	"github.com/nickcecere/docrag/internal/extract"
	"github.com/nickcecere/docrag/internal/extract/extracttest"
	"github.com/nickcecere/docrag/internal/fs"
	"github.com/nickcecere/docrag/internal/index"
	"github.com/nickcecere/docrag/internal/indexer"
	"github.com/nickcecere/docrag/internal/pdftest"
	"github.com/nickcecere/docrag/internal/store"
)

const (
	gardening = "Tomatoes need full sun and regular watering. Prune the suckers on tomato plants and stake the vines so the tomatoes ripen evenly in the garden."
	astronomy = "Jupiter is the largest planet in the solar system. Its great red spot is a storm larger than Earth and its moons include Europa and Ganymede."
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Database.Backend = "memory"
	cfg.RAG.ChunkSize = 10
	cfg.RAG.ChunkOverlap = 3
	cfg.RAG.SearchResults = 3
	cfg.OCR.Enabled = false
	return cfg
}

func newTestSystem(t *testing.T, cfg *config.Config) (*System, *embedtest.Embedder) {
	emb := embedtest.New(128)
	provider := embeddings.NewStaticProvider(emb)
	return NewFromConfig(store.NewMemoryStore(), provider, cfg), emb
}

func writePDF(t *testing.T, name string, pages ...string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, pdftest.Write(path, pages...))
	return path
}

func TestIngestAndRetrieve(t *testing.T) {
	sys, _ := newTestSystem(t, testConfig())
	ctx := context.Background()

	res, err := sys.Ingest(ctx, "garden", writePDF(t, "garden.pdf", gardening), map[string]any{"source": "garden.pdf"})
	require.NoError(t, err)
	assert.Greater(t, res.Chunks, 0)

	text := sys.RetrieveContext(ctx, "how much sun do tomatoes need", 1)
	require.NotEmpty(t, text)

	assert.True(t, strings.HasPrefix(text, "Document: garden.pdf\nRelevance: "))
	assert.Contains(t, text, "\nContent: ")
	assert.True(t, strings.HasSuffix(text, "\n"+strings.Repeat("-", 50)))
}

func TestRetrieveContextEmptyIndex(t *testing.T) {
	sys, emb := newTestSystem(t, testConfig())

	assert.Equal(t, "", sys.RetrieveContext(context.Background(), "anything at all", 5))
	assert.Equal(t, 0, emb.Calls(), "empty index must not load the model")
}

func TestRetrieveContextOrderAndLimit(t *testing.T) {
	sys, _ := newTestSystem(t, testConfig())
	ctx := context.Background()

	_, err := sys.Ingest(ctx, "garden", writePDF(t, "garden.pdf", gardening, gardening), nil)
	require.NoError(t, err)
	_, err = sys.Ingest(ctx, "space", writePDF(t, "space.pdf", astronomy, astronomy), nil)
	require.NoError(t, err)
	require.Greater(t, sys.Count(ctx), 4)

	for _, k := range []int{1, 2, 4} {
		text := sys.RetrieveContext(ctx, "tomato plants in the garden", k)
		distances := relevances(t, text)
		assert.Len(t, distances, k)
		for i := 1; i < len(distances); i++ {
			assert.LessOrEqual(t, distances[i-1], distances[i])
		}
	}

	// k <= 0 falls back to the configured count
	assert.Len(t, relevances(t, sys.RetrieveContext(ctx, "tomato", 0)), 3)
}

func TestRetrieveRanksClosestDocumentFirst(t *testing.T) {
	sys, _ := newTestSystem(t, testConfig())
	ctx := context.Background()

	_, err := sys.Ingest(ctx, "A", writePDF(t, "a.pdf", gardening), nil)
	require.NoError(t, err)
	_, err = sys.Ingest(ctx, "B", writePDF(t, "b.pdf", astronomy), nil)
	require.NoError(t, err)

	hits := sys.Retrieve(ctx, "prune and stake tomato vines in the garden", 10)
	require.NotEmpty(t, hits)

	require.GreaterOrEqual(t, len(hits), 3)
	for _, h := range hits[:3] {
		assert.Equal(t, "A", h.Metadata.DocumentID)
	}
}

func TestIngestThenDeleteRestoresState(t *testing.T) {
	sys, _ := newTestSystem(t, testConfig())
	ctx := context.Background()

	_, err := sys.Ingest(ctx, "space", writePDF(t, "space.pdf", astronomy), nil)
	require.NoError(t, err)

	before := sys.Count(ctx)

	_, err = sys.Ingest(ctx, "A", writePDF(t, "a.pdf", gardening), nil)
	require.NoError(t, err)
	require.Greater(t, sys.Count(ctx), before)

	require.NoError(t, sys.Delete(ctx, "A"))

	assert.Equal(t, before, sys.Count(ctx))
	for _, d := range sys.ListDocuments(ctx) {
		assert.NotEqual(t, "A", d.DocumentID)
	}

	require.NoError(t, sys.Delete(ctx, "never-ingested"))
}

func TestClear(t *testing.T) {
	sys, _ := newTestSystem(t, testConfig())
	ctx := context.Background()

	_, err := sys.Ingest(ctx, "A", writePDF(t, "a.pdf", gardening), nil)
	require.NoError(t, err)
	_, err = sys.Ingest(ctx, "B", writePDF(t, "b.pdf", astronomy), nil)
	require.NoError(t, err)

	require.NoError(t, sys.Clear(ctx))
	assert.Zero(t, sys.Count(ctx))
	assert.Empty(t, sys.ListDocuments(ctx))
	assert.Empty(t, sys.RetrieveContext(ctx, "tomato", 3))
}

func TestDrop(t *testing.T) {
	sys, _ := newTestSystem(t, testConfig())
	ctx := context.Background()

	_, err := sys.Ingest(ctx, "A", writePDF(t, "a.pdf", gardening), nil)
	require.NoError(t, err)

	require.NoError(t, sys.Drop(ctx))

	st, err := sys.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Collections)
	assert.Empty(t, st.EmbeddingModel)
	assert.Zero(t, sys.Count(ctx))

	_, err = sys.Ingest(ctx, "A", writePDF(t, "a.pdf", gardening), nil)
	require.NoError(t, err)
	assert.Contains(t, sys.RetrieveContext(ctx, "tomato", 1), "Document: ")
}

func TestIngestIsIdempotent(t *testing.T) {
	sys, _ := newTestSystem(t, testConfig())
	ctx := context.Background()
	path := writePDF(t, "garden.pdf", gardening)

	first, err := sys.Ingest(ctx, "garden", path, nil)
	require.NoError(t, err)
	second, err := sys.Ingest(ctx, "garden", path, nil)
	require.NoError(t, err)

	assert.False(t, second.Skipped, "Ingest always re-indexes")
	assert.Equal(t, first.Chunks, sys.Count(ctx))

	docs := sys.ListDocuments(ctx)
	require.Len(t, docs, 1)
	assert.Equal(t, first.Chunks, docs[0].Chunks)
}

func TestIngestErrors(t *testing.T) {
	sys, _ := newTestSystem(t, testConfig())
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		_, err := sys.Ingest(ctx, "x", filepath.Join(t.TempDir(), "missing.pdf"), nil)
		assert.ErrorIs(t, err, ErrFileNotFound)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("no text", func(t *testing.T) {
		_, err := sys.Ingest(ctx, "x", writePDF(t, "scan.pdf", ""), nil)
		assert.ErrorIs(t, err, indexer.ErrNoText)
	})

	t.Run("no chunks", func(t *testing.T) {
		_, err := sys.Ingest(ctx, "x", writePDF(t, "tiny.pdf", "p. 1"), nil)
		assert.ErrorIs(t, err, indexer.ErrNoChunks)
	})

	t.Run("not a pdf", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "notes.docx")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
		_, err := sys.Ingest(ctx, "x", path, nil)
		assert.ErrorIs(t, err, indexer.ErrNotPDF)
	})

	assert.Equal(t, 0, sys.Count(ctx))
	assert.Empty(t, sys.ListDocuments(ctx))
}

func TestIngestEmbeddingFailureStoresNothing(t *testing.T) {
	sys, emb := newTestSystem(t, testConfig())
	ctx := context.Background()

	emb.Err = errors.New("model not loaded")

	_, err := sys.Ingest(ctx, "garden", writePDF(t, "garden.pdf", gardening), nil)
	assert.ErrorIs(t, err, embeddings.ErrEmbedding)
	assert.Equal(t, 0, sys.Count(ctx))
}

func TestIngestGeneratesID(t *testing.T) {
	sys, _ := newTestSystem(t, testConfig())

	res, err := sys.Ingest(context.Background(), "", writePDF(t, "garden.pdf", gardening), nil)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f-]{36}$`), res.DocumentID)
}

func TestIngestScannedPDF(t *testing.T) {
	cfg := testConfig()
	cfg.OCR.Enabled = true
	cfg.OCR.PopplerPath, cfg.OCR.TesseractPath = installTools(t)

	emb := embedtest.New(128)
	ix := index.New(store.NewMemoryStore(), embeddings.NewStaticProvider(emb), cfg.RAG.Collection)
	runner := &extracttest.Runner{Pages: []string{astronomy}}
	ex := extract.NewPDFExtractor(extract.Options{
		OCREnabled:    true,
		PopplerPath:   cfg.OCR.PopplerPath,
		TesseractPath: cfg.OCR.TesseractPath,
	}, runner)
	chunker := fs.NewWordChunker(fs.ChunkOptions{ChunkSize: cfg.RAG.ChunkSize, ChunkOverlap: cfg.RAG.ChunkOverlap})
	sys := New(indexer.New(ix, ex, chunker, cfg), cfg)

	ctx := context.Background()
	res, err := sys.Ingest(ctx, "scan", writePDF(t, "scan.pdf", ""), nil)
	require.NoError(t, err)

	assert.Greater(t, res.Chunks, 0)
	assert.Greater(t, sys.Count(ctx), 0)
	assert.NotEmpty(t, runner.Calls())
	assert.Contains(t, sys.RetrieveContext(ctx, "great red spot on jupiter", 1), "great red spot")
}

func installTools(t *testing.T) (string, string) {
	poppler, tesseract, err := extracttest.InstallTools(t.TempDir())
	require.NoError(t, err)
	return poppler, tesseract
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, "", FormatContext(nil))

	sep := strings.Repeat("-", 50)
	got := FormatContext([]index.Hit{
		{Text: "first chunk", Distance: 0.123456, Metadata: index.Metadata{Source: "a.pdf"}},
		{Text: "second chunk", Distance: 0.5, Metadata: index.Metadata{}},
	})

	want := "Document: a.pdf\nRelevance: 0.1235\nContent: first chunk\n" + sep +
		"\n" +
		"Document: Unknown\nRelevance: 0.5000\nContent: second chunk\n" + sep
	assert.Equal(t, want, got)
}

func TestStatus(t *testing.T) {
	sys, emb := newTestSystem(t, testConfig())
	ctx := context.Background()

	st, err := sys.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "documents", st.Collection)
	assert.Equal(t, 0, st.Chunks)
	assert.Empty(t, st.EmbeddingModel)
	assert.Empty(t, st.Collections)
	assert.Equal(t, 0, emb.Calls())

	res, err := sys.Ingest(ctx, "garden", writePDF(t, "garden.pdf", gardening), nil)
	require.NoError(t, err)

	st, err = sys.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Documents)
	assert.Equal(t, res.Chunks, st.Chunks)
	assert.Greater(t, st.TotalSize, int64(0))
	require.Len(t, st.Collections, 1)
	assert.Equal(t, "documents", st.Collections[0].Name)
	assert.Equal(t, "bag-of-words", st.EmbeddingModel)
	assert.Equal(t, 128, st.EmbeddingDimensions)
	assert.Equal(t, 10, st.ChunkSize)
	assert.Equal(t, 0.7, st.SimilarityThreshold)
}

// relevances parses the Relevance lines of a context block.
func relevances(t *testing.T, text string) []float64 {
	var out []float64
	for _, line := range strings.Split(text, "\n") {
		if v, ok := strings.CutPrefix(line, "Relevance: "); ok {
			f, err := strconv.ParseFloat(v, 64)
			require.NoError(t, err)
			out = append(out, f)
		}
	}
	return out
}
