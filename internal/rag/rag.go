// Package rag ties extraction, chunking, embedding and the vector index
// together: it ingests PDFs and turns questions into prompt context.
package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/embeddings"
	"github.com/nickcecere/docrag/internal/extract"
	"github.com/nickcecere/docrag/internal/fs"
	"github.com/nickcecere/docrag/internal/index"
	"github.com/nickcecere/docrag/internal/indexer"
	"github.com/nickcecere/docrag/internal/store"
)

// ErrFileNotFound is returned by Ingest for a path that does not exist.
// It matches os.ErrNotExist.
var ErrFileNotFound = fmt.Errorf("file not found: %w", os.ErrNotExist)

// separator ends every context block.
var separator = strings.Repeat("-", 50)

// System is the retrieval facade used by the CLI and the MCP server.
type System struct {
	indexer *indexer.Indexer
	index   *index.Index
	cfg     *config.Config
}

// New creates a System over an existing indexer.
func New(idx *indexer.Indexer, cfg *config.Config) *System {
	return &System{
		indexer: idx,
		index:   idx.Index(),
		cfg:     cfg,
	}
}

// NewFromConfig wires a System from configuration. The embedding model is
// not loaded until the first ingest or query.
func NewFromConfig(st store.Store, provider *embeddings.Provider, cfg *config.Config) *System {
	ix := index.New(st, provider, cfg.RAG.Collection)

	ex := extract.NewPDFExtractor(extract.Options{
		OCREnabled:    cfg.OCR.Enabled,
		DPI:           cfg.OCR.DPI,
		Language:      cfg.OCR.Language,
		PopplerPath:   cfg.OCR.PopplerPath,
		TesseractPath: cfg.OCR.TesseractPath,
	}, nil)

	chunker := fs.NewWordChunker(fs.ChunkOptions{
		ChunkSize:     cfg.RAG.ChunkSize,
		ChunkOverlap:  cfg.RAG.ChunkOverlap,
		MinChunkChars: cfg.RAG.MinChunkChars,
	})

	return New(indexer.New(ix, ex, chunker, cfg), cfg)
}

// Indexer returns the ingestion pipeline.
func (s *System) Indexer() *indexer.Indexer {
	return s.indexer
}

// Index returns the vector index.
func (s *System) Index() *index.Index {
	return s.index
}

// Ingest indexes the PDF at path under documentID, replacing any previous
// version of the document. An empty documentID gets a random one. On error
// nothing of the new version is stored.
func (s *System) Ingest(ctx context.Context, documentID, path string, metadata map[string]any) (*indexer.Result, error) {
	return s.IngestDocument(ctx, indexer.Document{
		ID:       documentID,
		Path:     path,
		Metadata: metadata,
		Force:    true,
	})
}

// IngestDocument is Ingest with full control over the document options.
func (s *System) IngestDocument(ctx context.Context, doc indexer.Document) (*indexer.Result, error) {
	if _, err := os.Stat(doc.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, doc.Path)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	res, err := s.indexer.IndexDocument(ctx, doc)
	if err != nil {
		return nil, err
	}

	if !res.Skipped {
		log.Info("Ingested document", "id", res.DocumentID, "source", res.Source, "chunks", res.Chunks)
	}
	return res, nil
}

// IngestDir indexes every PDF under a directory.
func (s *System) IngestDir(ctx context.Context, opts indexer.DirOptions) ([]indexer.Result, error) {
	return s.indexer.IndexDir(ctx, opts)
}

// RetrieveContext returns the k chunks nearest to query formatted as prompt
// context, nearest first. k <= 0 uses the configured default. No hits, or a
// failed search, yields "".
func (s *System) RetrieveContext(ctx context.Context, query string, k int) string {
	return FormatContext(s.Retrieve(ctx, query, k))
}

// Retrieve returns the hits behind RetrieveContext.
func (s *System) Retrieve(ctx context.Context, query string, k int) []index.Hit {
	if k <= 0 {
		k = s.cfg.RAG.SearchResults
	}
	return s.index.Query(ctx, query, k)
}

// FormatContext renders hits as labelled blocks joined by newlines.
func FormatContext(hits []index.Hit) string {
	if len(hits) == 0 {
		return ""
	}

	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		source := h.Metadata.Source
		if source == "" {
			source = "Unknown"
		}
		parts = append(parts, fmt.Sprintf("Document: %s\nRelevance: %.4f\nContent: %s\n%s",
			source, h.Distance, h.Text, separator))
	}
	return strings.Join(parts, "\n")
}

// Delete removes a document. Unknown ids are a no-op.
func (s *System) Delete(ctx context.Context, documentID string) error {
	return s.index.Delete(ctx, documentID)
}

// Clear removes every document from the collection.
func (s *System) Clear(ctx context.Context) error {
	return s.index.Clear(ctx)
}

// Drop deletes the collection itself, for starting over with a different
// embedding model.
func (s *System) Drop(ctx context.Context) error {
	return s.index.Drop(ctx)
}

// ListDocuments returns every indexed document, oldest first.
func (s *System) ListDocuments(ctx context.Context) []index.DocumentSummary {
	return s.index.ListDocuments(ctx)
}

// Count returns the number of stored chunks.
func (s *System) Count(ctx context.Context) int {
	return s.index.Count(ctx)
}

// Status summarises the index for health reporting.
type Status struct {
	Collection          string  `json:"collection"`
	Documents           int     `json:"documents"`
	Chunks              int     `json:"chunks"`
	TotalSize           int64   `json:"total_size"`
	EmbeddingModel      string  `json:"embedding_model,omitempty"`
	EmbeddingDimensions int     `json:"embedding_dimensions,omitempty"`
	ChunkSize           int     `json:"chunk_size"`
	ChunkOverlap        int     `json:"chunk_overlap"`
	SearchResults       int     `json:"search_results"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	OCREnabled          bool    `json:"ocr_enabled"`

	// Collections lists every collection in the database.
	Collections []store.Collection `json:"collections"`
}

// Status reports what is indexed. It does not load the embedding model.
func (s *System) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		Collection:          s.index.Name(),
		ChunkSize:           s.cfg.RAG.ChunkSize,
		ChunkOverlap:        s.cfg.RAG.ChunkOverlap,
		SearchResults:       s.cfg.RAG.SearchResults,
		SimilarityThreshold: s.cfg.RAG.SimilarityThreshold,
		OCREnabled:          s.cfg.OCR.Enabled,
	}

	colls, err := s.index.Collections(ctx)
	if err != nil {
		return nil, err
	}
	st.Collections = colls

	coll, err := s.index.Collection(ctx)
	if err != nil {
		return nil, err
	}
	if coll == nil {
		return st, nil
	}
	st.EmbeddingModel = coll.EmbeddingModel
	st.EmbeddingDimensions = coll.EmbeddingDimensions

	stats, err := s.index.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if stats != nil {
		st.Documents = stats.DocumentCount
		st.Chunks = stats.ChunkCount
		st.TotalSize = stats.TotalSize
	}

	return st, nil
}
