package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
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
	"github.com/nickcecere/docrag/internal/pdftest"
	"github.com/nickcecere/docrag/internal/store"
)

const (
	pageOne = "Solar panels convert sunlight into electricity using photovoltaic cells made of silicon"
	pageTwo = "Inverters change the direct current from the panels into alternating current for the home"
)

// createTestConfig creates a test configuration with small chunks.
func createTestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.RAG.ChunkSize = 8
	cfg.RAG.ChunkOverlap = 2
	cfg.RAG.MinChunkChars = 20
	cfg.RAG.MaxFileSize = 1 << 20
	cfg.OCR.Enabled = false
	return cfg
}

type testEnv struct {
	idx *Indexer
	ix  *index.Index
	emb *embedtest.Embedder
	dir string
}

func newTestEnv(t *testing.T, cfg *config.Config, ex extract.Extractor) *testEnv {
	emb := embedtest.New(32)
	ix := index.New(store.NewMemoryStore(), embeddings.NewStaticProvider(emb), "documents")
	if ex == nil {
		ex = extract.NewPDFExtractor(extract.Options{OCREnabled: false}, nil)
	}
	chunker := fs.NewWordChunker(fs.ChunkOptions{
		ChunkSize:     cfg.RAG.ChunkSize,
		ChunkOverlap:  cfg.RAG.ChunkOverlap,
		MinChunkChars: cfg.RAG.MinChunkChars,
	})

	return &testEnv{
		idx: New(ix, ex, chunker, cfg),
		ix:  ix,
		emb: emb,
		dir: t.TempDir(),
	}
}

func (e *testEnv) writePDF(t *testing.T, name string, pages ...string) string {
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, pdftest.Write(path, pages...))
	return path
}

func TestIndexDocument(t *testing.T) {
	env := newTestEnv(t, createTestConfig(), nil)
	ctx := context.Background()
	path := env.writePDF(t, "solar.pdf", pageOne, pageTwo)

	res, err := env.idx.IndexDocument(ctx, Document{
		ID:       "solar",
		Path:     path,
		Metadata: map[string]any{"source": "solar-guide.pdf", "year": 2024},
	})
	require.NoError(t, err)

	assert.Equal(t, "solar", res.DocumentID)
	assert.Equal(t, "solar-guide.pdf", res.Source)
	assert.False(t, res.Skipped)
	assert.Greater(t, res.Chunks, 1)
	assert.Greater(t, res.Characters, 0)
	assert.NotEmpty(t, res.Hash)

	assert.Equal(t, res.Chunks, env.ix.Count(ctx))

	docs := env.ix.ListDocuments(ctx)
	require.Len(t, docs, 1)
	assert.Equal(t, "solar", docs[0].DocumentID)
	assert.Equal(t, "solar-guide.pdf", docs[0].Source)
	assert.Equal(t, res.Chunks, docs[0].Chunks)

	hits := env.ix.Query(ctx, "photovoltaic cells", 1)
	require.Len(t, hits, 1)
	assert.Equal(t, "2024", hits[0].Metadata.Extra["year"])
	assert.Equal(t, "solar", hits[0].Metadata.DocumentID)
}

func TestIndexDocumentSourceDefaults(t *testing.T) {
	env := newTestEnv(t, createTestConfig(), nil)
	ctx := context.Background()
	path := env.writePDF(t, "solar.pdf", pageOne)

	res, err := env.idx.IndexDocument(ctx, Document{ID: "a", Path: path})
	require.NoError(t, err)
	assert.Equal(t, path, res.Source)

	res, err = env.idx.IndexDocument(ctx, Document{
		ID:       "b",
		Path:     path,
		Source:   "explicit label",
		Metadata: map[string]any{"source": "ignored"},
	})
	require.NoError(t, err)
	assert.Equal(t, "explicit label", res.Source)
}

func TestIndexDocumentGuards(t *testing.T) {
	cfg := createTestConfig()
	cfg.RAG.MaxFileSize = 64
	env := newTestEnv(t, cfg, nil)
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		_, err := env.idx.IndexDocument(ctx, Document{ID: "x", Path: filepath.Join(env.dir, "nope.pdf")})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("not a pdf", func(t *testing.T) {
		path := filepath.Join(env.dir, "notes.txt")
		require.NoError(t, os.WriteFile(path, []byte("plain text"), 0644))

		_, err := env.idx.IndexDocument(ctx, Document{ID: "x", Path: path})
		assert.ErrorIs(t, err, ErrNotPDF)
	})

	t.Run("too large", func(t *testing.T) {
		path := env.writePDF(t, "big.pdf", pageOne)

		_, err := env.idx.IndexDocument(ctx, Document{ID: "x", Path: path})
		assert.ErrorIs(t, err, ErrFileTooLarge)
	})

	t.Run("directory", func(t *testing.T) {
		_, err := env.idx.IndexDocument(ctx, Document{ID: "x", Path: env.dir})
		assert.Error(t, err)
	})

	t.Run("empty id", func(t *testing.T) {
		_, err := env.idx.IndexDocument(ctx, Document{Path: filepath.Join(env.dir, "big.pdf")})
		assert.Error(t, err)
	})

	assert.Equal(t, 0, env.ix.Count(ctx))
}

func TestIndexDocumentUppercaseExtension(t *testing.T) {
	env := newTestEnv(t, createTestConfig(), nil)
	path := env.writePDF(t, "SCAN.PDF", pageOne)

	_, err := env.idx.IndexDocument(context.Background(), Document{ID: "a", Path: path})
	assert.NoError(t, err)
}

func TestIndexDocumentNoText(t *testing.T) {
	env := newTestEnv(t, createTestConfig(), nil)
	ctx := context.Background()
	path := env.writePDF(t, "scan.pdf", "", "")

	_, err := env.idx.IndexDocument(ctx, Document{ID: "scan", Path: path})
	assert.ErrorIs(t, err, ErrNoText)
	assert.Equal(t, 0, env.ix.Count(ctx))
	assert.Empty(t, env.ix.ListDocuments(ctx))
	assert.Equal(t, 0, env.emb.Calls())
}

func TestIndexDocumentNoChunks(t *testing.T) {
	env := newTestEnv(t, createTestConfig(), nil)
	ctx := context.Background()
	path := env.writePDF(t, "tiny.pdf", "Page 1")

	_, err := env.idx.IndexDocument(ctx, Document{ID: "tiny", Path: path})
	assert.ErrorIs(t, err, ErrNoChunks)
	assert.Equal(t, 0, env.ix.Count(ctx))
}

func TestIndexDocumentEmbeddingFailure(t *testing.T) {
	env := newTestEnv(t, createTestConfig(), nil)
	ctx := context.Background()
	path := env.writePDF(t, "solar.pdf", pageOne)

	env.emb.Err = errors.New("model offline")

	_, err := env.idx.IndexDocument(ctx, Document{ID: "solar", Path: path})
	assert.ErrorIs(t, err, embeddings.ErrEmbedding)
	assert.Empty(t, env.ix.ListDocuments(ctx))
}

func TestIndexDocumentSkipsUnchanged(t *testing.T) {
	env := newTestEnv(t, createTestConfig(), nil)
	ctx := context.Background()
	path := env.writePDF(t, "solar.pdf", pageOne, pageTwo)

	first, err := env.idx.IndexDocument(ctx, Document{ID: "solar", Path: path})
	require.NoError(t, err)
	calls := env.emb.Calls()

	again, err := env.idx.IndexDocument(ctx, Document{ID: "solar", Path: path})
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Equal(t, calls, env.emb.Calls())
	assert.Equal(t, first.Chunks, env.ix.Count(ctx))

	forced, err := env.idx.IndexDocument(ctx, Document{ID: "solar", Path: path, Force: true})
	require.NoError(t, err)
	assert.False(t, forced.Skipped)
	assert.Greater(t, env.emb.Calls(), calls)
	assert.Equal(t, first.Chunks, env.ix.Count(ctx), "re-ingest must not duplicate chunks")
}

func TestIndexDocumentReplacesChangedContent(t *testing.T) {
	env := newTestEnv(t, createTestConfig(), nil)
	ctx := context.Background()
	path := env.writePDF(t, "solar.pdf", pageOne, pageTwo)

	_, err := env.idx.IndexDocument(ctx, Document{ID: "solar", Path: path})
	require.NoError(t, err)

	env.writePDF(t, "solar.pdf", pageOne)
	res, err := env.idx.IndexDocument(ctx, Document{ID: "solar", Path: path})
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	assert.Equal(t, res.Chunks, env.ix.Count(ctx))
	for _, h := range env.ix.Query(ctx, "alternating current inverters", 10) {
		assert.NotContains(t, h.Text, "Inverters")
	}
}

func TestIndexDocumentOCRFallback(t *testing.T) {
	poppler, tesseract, err := extracttest.InstallTools(t.TempDir())
	require.NoError(t, err)

	runner := &extracttest.Runner{Pages: []string{pageOne, pageTwo}}
	ex := extract.NewPDFExtractor(extract.Options{
		OCREnabled:    true,
		PopplerPath:   poppler,
		TesseractPath: tesseract,
	}, runner)

	env := newTestEnv(t, createTestConfig(), ex)
	ctx := context.Background()
	path := env.writePDF(t, "scan.pdf", "", "")

	res, err := env.idx.IndexDocument(ctx, Document{ID: "scan", Path: path})
	require.NoError(t, err)
	assert.Greater(t, res.Chunks, 0)
	assert.Greater(t, env.ix.Count(ctx), 0)

	calls := runner.Calls()
	require.NotEmpty(t, calls)
	assert.True(t, strings.HasPrefix(calls[0], "pdftoppm "))
}

func TestIndexDir(t *testing.T) {
	env := newTestEnv(t, createTestConfig(), nil)
	ctx := context.Background()

	env.writePDF(t, "solar.pdf", pageOne)
	env.writePDF(t, "guides/inverters.pdf", pageTwo)
	env.writePDF(t, "drafts/old.pdf", pageOne)
	env.writePDF(t, "scan.pdf", "")
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "notes.txt"), []byte(pageOne), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, ".gitignore"), []byte("drafts/\n"), 0644))

	var updates int
	results, err := env.idx.IndexDir(ctx, DirOptions{
		Path:       env.dir,
		Metadata:   map[string]any{"batch": "nightly"},
		OnProgress: func(Progress) { updates++ },
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.DocumentID)
	}
	assert.ElementsMatch(t, []string{"solar.pdf", "guides/inverters.pdf"}, ids)

	p := env.idx.Progress()
	assert.Equal(t, 3, p.TotalFiles)
	assert.Equal(t, 2, p.ProcessedFiles)
	assert.Equal(t, 1, p.Errors, "scanned page without OCR")
	assert.Equal(t, 2, updates)

	docs := env.ix.ListDocuments(ctx)
	require.Len(t, docs, 2)

	hits := env.ix.Query(ctx, "inverters alternating current", 1)
	require.Len(t, hits, 1)
	assert.Equal(t, "guides/inverters.pdf", hits[0].Metadata.Source)
	assert.Equal(t, "nightly", hits[0].Metadata.Extra["batch"])

	// Second pass finds nothing changed
	results, err = env.idx.IndexDir(ctx, DirOptions{Path: env.dir})
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Skipped, r.DocumentID)
	}
	assert.Equal(t, 2, env.idx.Progress().SkippedFiles)
}

func TestIndexDirErrors(t *testing.T) {
	env := newTestEnv(t, createTestConfig(), nil)
	ctx := context.Background()

	_, err := env.idx.IndexDir(ctx, DirOptions{Path: filepath.Join(env.dir, "missing")})
	assert.Error(t, err)

	file := env.writePDF(t, "solar.pdf", pageOne)
	_, err = env.idx.IndexDir(ctx, DirOptions{Path: file})
	assert.Error(t, err)
}

func TestIndexDirCancelled(t *testing.T) {
	env := newTestEnv(t, createTestConfig(), nil)
	env.writePDF(t, "solar.pdf", pageOne)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.idx.IndexDir(ctx, DirOptions{Path: env.dir})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, env.ix.Count(context.Background()))
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, "guides/inverters.pdf", DocumentID(filepath.Join("guides", "inverters.pdf")))
	assert.Equal(t, "solar.pdf", DocumentID("solar.pdf"))
}

// staticExtractor returns the same text for every file.
type staticExtractor string

func (s staticExtractor) Extract(context.Context, string) (string, error) {
	return string(s), nil
}

func TestIndexDocumentCountsCharacters(t *testing.T) {
	text := "Солнечные панели преобразуют свет в электричество"
	env := newTestEnv(t, createTestConfig(), staticExtractor(text))
	path := env.writePDF(t, "ru.pdf", "placeholder")

	res, err := env.idx.IndexDocument(context.Background(), Document{ID: "ru", Path: path})
	require.NoError(t, err)

	assert.Equal(t, 49, res.Characters)
	assert.Less(t, res.Characters, len(text))
	assert.Equal(t, 1, res.Chunks)
}
