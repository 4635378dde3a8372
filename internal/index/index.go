// Package index stores embedded document chunks and answers nearest-neighbour
// queries over them.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nickcecere/docrag/internal/embeddings"
	"github.com/nickcecere/docrag/internal/store"
)

var (
	// ErrInconsistentBatch is matched by InconsistentBatchError.
	ErrInconsistentBatch = errors.New("inconsistent batch")

	// ErrEmptyBatch is returned when a batch has no chunks.
	ErrEmptyBatch = errors.New("batch has no chunks")

	// ErrCollectionMismatch is returned when the stored collection was built
	// with vectors of a different dimension than the provider produces.
	ErrCollectionMismatch = errors.New("collection does not match embedding model")
)

// InconsistentBatchError reports a batch whose parallel slices disagree.
type InconsistentBatchError struct {
	Chunks     int
	Embeddings int
	Metadatas  int
	Reason     string
}

func (e *InconsistentBatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("inconsistent batch: %s", e.Reason)
	}
	return fmt.Sprintf("inconsistent batch: %d chunks, %d embeddings, %d metadatas",
		e.Chunks, e.Embeddings, e.Metadatas)
}

func (e *InconsistentBatchError) Is(target error) bool {
	return target == ErrInconsistentBatch
}

// Batch is one document's chunks ready to be stored. Chunks, Embeddings and
// Metadatas are parallel slices.
type Batch struct {
	DocumentID string
	Hash       string
	FileSize   int64

	Chunks     []string
	Embeddings [][]float32
	Metadatas  []Metadata
}

// Hit is one query result.
type Hit struct {
	ChunkID  string   `json:"chunk_id"`
	Text     string   `json:"text"`
	Distance float64  `json:"distance"` // cosine distance, lower is closer
	Score    float64  `json:"score"`    // 1 - distance
	Metadata Metadata `json:"metadata"`
}

// DocumentSummary describes one indexed document.
type DocumentSummary struct {
	DocumentID string    `json:"document_id"`
	Source     string    `json:"source"`
	Chunks     int       `json:"chunks"`
	Hash       string    `json:"hash,omitempty"`
	FileSize   int64     `json:"file_size,omitempty"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// Index is a named collection of chunk vectors in a store.
type Index struct {
	store      store.Store
	provider   *embeddings.Provider
	collection string
}

// New creates an index over the named collection. Nothing is created in the
// store until the first write.
func New(st store.Store, provider *embeddings.Provider, collection string) *Index {
	return &Index{
		store:      st,
		provider:   provider,
		collection: collection,
	}
}

// Name returns the collection name.
func (ix *Index) Name() string {
	return ix.collection
}

// Provider returns the embedding provider shared with the index.
func (ix *Index) Provider() *embeddings.Provider {
	return ix.provider
}

// Collection returns the backing collection, or nil if nothing has been
// written yet. An existing collection pins the provider's dimension.
func (ix *Index) Collection(ctx context.Context) (*store.Collection, error) {
	coll, err := ix.store.GetCollection(ix.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	if coll == nil {
		return nil, nil
	}

	if err := ix.provider.PinDimensions(coll.EmbeddingDimensions); err != nil {
		return nil, fmt.Errorf("%w: %q holds %d-dimension vectors: %v",
			ErrCollectionMismatch, ix.collection, coll.EmbeddingDimensions, err)
	}
	return coll, nil
}

// ensureCollection returns the collection, creating it for vectors of dims.
func (ix *Index) ensureCollection(ctx context.Context, dims int) (*store.Collection, error) {
	coll, err := ix.Collection(ctx)
	if err != nil {
		return nil, err
	}
	if coll != nil {
		if coll.EmbeddingDimensions != dims {
			return nil, fmt.Errorf("%w: %q holds %d-dimension vectors, batch has %d",
				ErrCollectionMismatch, ix.collection, coll.EmbeddingDimensions, dims)
		}
		return coll, nil
	}
	if pinned := ix.provider.Dimensions(); pinned != 0 && pinned != dims {
		return nil, fmt.Errorf("%w: model produces %d-dimension vectors, batch has %d",
			ErrCollectionMismatch, pinned, dims)
	}

	model, err := ix.provider.ModelName(ctx)
	if err != nil {
		return nil, err
	}

	log.Debug("Creating collection", "name", ix.collection, "model", model, "dimensions", dims)
	coll, err = ix.store.EnsureCollection(ix.collection, model, dims)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	return coll, nil
}

// Add stores a document's chunks under ids "{DocumentID}_{i}".
//
// Add does not remove anything first: re-adding a document that is already
// indexed collides on chunk ids and fails with store.ErrDuplicateChunk,
// leaving the existing chunks in place. Use Replace to re-ingest.
func (ix *Index) Add(ctx context.Context, b Batch) error {
	return ix.write(ctx, b, false)
}

// Replace swaps all of a document's chunks for the batch in one transaction.
func (ix *Index) Replace(ctx context.Context, b Batch) error {
	return ix.write(ctx, b, true)
}

func (ix *Index) write(ctx context.Context, b Batch, replace bool) error {
	chunks, err := b.toChunks()
	if err != nil {
		return err
	}

	coll, err := ix.ensureCollection(ctx, len(b.Embeddings[0]))
	if err != nil {
		return err
	}

	doc := store.DocumentInput{
		DocumentID: b.DocumentID,
		Source:     b.Metadatas[0].Source,
		Hash:       b.Hash,
		FileSize:   b.FileSize,
	}

	if replace {
		err = ix.store.ReplaceDocument(coll.ID, doc, chunks)
	} else {
		err = ix.store.AddChunks(coll.ID, doc, chunks)
	}
	if err != nil {
		return fmt.Errorf("failed to store document %q: %w", b.DocumentID, err)
	}

	log.Debug("Stored document", "id", b.DocumentID, "chunks", len(chunks), "replace", replace)
	return nil
}

// toChunks validates the batch and converts it to store chunks. It does not
// touch the store.
func (b Batch) toChunks() ([]store.Chunk, error) {
	if len(b.Chunks) != len(b.Embeddings) || len(b.Chunks) != len(b.Metadatas) {
		return nil, &InconsistentBatchError{
			Chunks:     len(b.Chunks),
			Embeddings: len(b.Embeddings),
			Metadatas:  len(b.Metadatas),
		}
	}
	if len(b.Chunks) == 0 {
		return nil, fmt.Errorf("%w: document %q", ErrEmptyBatch, b.DocumentID)
	}
	if b.DocumentID == "" {
		return nil, &InconsistentBatchError{Reason: "empty document id"}
	}

	dims := len(b.Embeddings[0])
	source := b.Metadatas[0].Source

	chunks := make([]store.Chunk, len(b.Chunks))
	for i, text := range b.Chunks {
		if strings.TrimSpace(text) == "" {
			return nil, &InconsistentBatchError{Reason: fmt.Sprintf("chunk %d is empty", i)}
		}
		if len(b.Embeddings[i]) == 0 || len(b.Embeddings[i]) != dims {
			return nil, &InconsistentBatchError{
				Reason: fmt.Sprintf("embedding %d has %d dimensions, expected %d", i, len(b.Embeddings[i]), dims),
			}
		}

		meta := b.Metadatas[i]
		if meta.DocumentID != "" && meta.DocumentID != b.DocumentID {
			return nil, &InconsistentBatchError{
				Reason: fmt.Sprintf("metadata %d belongs to document %q", i, meta.DocumentID),
			}
		}
		meta.DocumentID = b.DocumentID
		if meta.Source == "" {
			meta.Source = source
		}

		chunks[i] = store.Chunk{
			ChunkID:   fmt.Sprintf("%s_%d", b.DocumentID, i),
			Index:     i,
			Content:   text,
			Embedding: b.Embeddings[i],
			Metadata:  meta.Map(),
		}
	}
	return chunks, nil
}

// Search returns up to k chunks nearest to text, closest first. An index
// with no collection yet returns no hits without loading the model.
func (ix *Index) Search(ctx context.Context, text string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	coll, err := ix.Collection(ctx)
	if err != nil {
		return nil, err
	}
	if coll == nil {
		return nil, nil
	}

	log.Debug("Generating query embedding", "query", truncate(text, 50))
	vector, err := ix.provider.EncodeQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := ix.store.Search(coll.ID, vector, k)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		meta := metadataFromStored(r.Chunk.Metadata)
		if meta.DocumentID == "" {
			meta.DocumentID = r.Chunk.DocumentID
		}
		if meta.Source == "" {
			meta.Source = r.Chunk.Source
		}

		hits = append(hits, Hit{
			ChunkID:  r.Chunk.ChunkID,
			Text:     r.Chunk.Content,
			Distance: r.Distance,
			Score:    r.Score,
			Metadata: meta,
		})
	}

	log.Debug("Search complete", "results", len(hits))
	return hits, nil
}

// Query is Search with failures collapsed to no hits. Retrieval sits on the
// path of every question, so a broken index degrades to "no context".
func (ix *Index) Query(ctx context.Context, text string, k int) []Hit {
	hits, err := ix.Search(ctx, text, k)
	if err != nil {
		log.Warn("Query failed, returning no results", "collection", ix.collection, "error", err)
		return nil
	}
	return hits
}

// Delete removes every chunk of a document. Unknown ids are a no-op.
func (ix *Index) Delete(ctx context.Context, documentID string) error {
	coll, err := ix.store.GetCollection(ix.collection)
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}
	if coll == nil {
		return nil
	}

	if err := ix.store.DeleteDocument(coll.ID, documentID); err != nil {
		return fmt.Errorf("failed to delete document %q: %w", documentID, err)
	}

	log.Debug("Deleted document", "id", documentID)
	return nil
}

// Lookup returns the stored record for a document, or nil if it is absent.
func (ix *Index) Lookup(ctx context.Context, documentID string) (*store.DocumentRecord, error) {
	coll, err := ix.store.GetCollection(ix.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	if coll == nil {
		return nil, nil
	}
	return ix.store.GetDocument(coll.ID, documentID)
}

// ChunkCount returns the total number of stored chunks.
func (ix *Index) ChunkCount(ctx context.Context) (int, error) {
	coll, err := ix.store.GetCollection(ix.collection)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection: %w", err)
	}
	if coll == nil {
		return 0, nil
	}
	return ix.store.CountChunks(coll.ID)
}

// Count is ChunkCount with failures reported as zero.
func (ix *Index) Count(ctx context.Context) int {
	n, err := ix.ChunkCount(ctx)
	if err != nil {
		log.Warn("Count failed", "collection", ix.collection, "error", err)
		return 0
	}
	return n
}

// Documents returns one summary per document in the order they were first
// indexed.
func (ix *Index) Documents(ctx context.Context) ([]DocumentSummary, error) {
	coll, err := ix.store.GetCollection(ix.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	if coll == nil {
		return nil, nil
	}

	docs, err := ix.store.ListDocuments(coll.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	out := make([]DocumentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, DocumentSummary{
			DocumentID: d.DocumentID,
			Source:     d.Source,
			Chunks:     d.Chunks,
			Hash:       d.Hash,
			FileSize:   d.FileSize,
			IndexedAt:  d.IndexedAt,
		})
	}
	return out, nil
}

// ListDocuments is Documents with failures reported as an empty list.
func (ix *Index) ListDocuments(ctx context.Context) []DocumentSummary {
	docs, err := ix.Documents(ctx)
	if err != nil {
		log.Warn("Listing documents failed", "collection", ix.collection, "error", err)
		return nil
	}
	return docs
}

// Clear removes every document but keeps the collection.
func (ix *Index) Clear(ctx context.Context) error {
	coll, err := ix.store.GetCollection(ix.collection)
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}
	if coll == nil {
		return nil
	}
	return ix.store.ClearCollection(coll.ID)
}

// Stats returns document, chunk and byte totals for the collection, or nil
// if nothing has been written yet.
func (ix *Index) Stats(ctx context.Context) (*store.CollectionStats, error) {
	coll, err := ix.store.GetCollection(ix.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	if coll == nil {
		return nil, nil
	}

	stats, err := ix.store.GetStats(coll.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection stats: %w", err)
	}
	return stats, nil
}

// Collections lists every collection in the store, this one included.
func (ix *Index) Collections(ctx context.Context) ([]store.Collection, error) {
	colls, err := ix.store.ListCollections()
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return colls, nil
}

// Drop deletes the collection with its vectors and releases the dimension
// it pinned, so the next write may come from a model of another size.
// This is how an index built with a previous embedding model is discarded.
func (ix *Index) Drop(ctx context.Context) error {
	if err := ix.store.DeleteCollection(ix.collection); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	ix.provider.Unpin()

	log.Info("Dropped collection", "name", ix.collection)
	return nil
}

// truncate shortens a string to maxLen characters for display.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
