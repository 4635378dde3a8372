package store

import (
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store using brute-force cosine distance.
// Nothing survives a restart; it backs tests and throwaway sessions.
type MemoryStore struct {
	mu          sync.RWMutex
	nextID      int64
	collections map[int64]*memCollection
}

type memCollection struct {
	info Collection
	docs []*memDocument // insertion order
}

type memDocument struct {
	record DocumentRecord
	chunks []memChunk
}

type memChunk struct {
	record    ChunkRecord
	embedding []float32
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[int64]*memCollection)}
}

func (m *MemoryStore) newID() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) byName(name string) *memCollection {
	for _, c := range m.collections {
		if c.info.Name == name {
			return c
		}
	}
	return nil
}

// EnsureCollection returns the named collection, creating it if needed.
func (m *MemoryStore) EnsureCollection(name, model string, dimensions int) (*Collection, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid embedding dimensions: %d", dimensions)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c := m.byName(name); c != nil {
		if c.info.EmbeddingDimensions != dimensions {
			return nil, fmt.Errorf("%w: collection %q has %d dimensions, got %d",
				ErrDimensionMismatch, name, c.info.EmbeddingDimensions, dimensions)
		}
		info := c.info
		return &info, nil
	}

	now := time.Now().UTC().Truncate(time.Second)
	c := &memCollection{info: Collection{
		ID:                  m.newID(),
		Name:                name,
		EmbeddingModel:      model,
		EmbeddingDimensions: dimensions,
		CreatedAt:           now,
		UpdatedAt:           now,
	}}
	m.collections[c.info.ID] = c

	info := c.info
	return &info, nil
}

// GetCollection retrieves a collection by name.
func (m *MemoryStore) GetCollection(name string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := m.byName(name)
	if c == nil {
		return nil, nil
	}
	info := c.info
	return &info, nil
}

// ListCollections returns all collections sorted by name.
func (m *MemoryStore) ListCollections() ([]Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Collection
	for _, c := range m.collections {
		out = append(out, c.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteCollection removes a collection and everything in it.
func (m *MemoryStore) DeleteCollection(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c := m.byName(name); c != nil {
		delete(m.collections, c.info.ID)
	}
	return nil
}

// AddChunks inserts chunks, failing the batch on duplicate chunk ids.
func (m *MemoryStore) AddChunks(collectionID int64, doc DocumentInput, chunks []Chunk) error {
	return m.writeDocument(collectionID, doc, chunks, false)
}

// ReplaceDocument swaps a document's chunks for new ones.
func (m *MemoryStore) ReplaceDocument(collectionID int64, doc DocumentInput, chunks []Chunk) error {
	return m.writeDocument(collectionID, doc, chunks, true)
}

func (m *MemoryStore) writeDocument(collectionID int64, doc DocumentInput, chunks []Chunk, replace bool) error {
	if len(chunks) == 0 {
		return fmt.Errorf("no chunks to store for document %q", doc.DocumentID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collectionID]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrCollectionNotFound, collectionID)
	}

	// Validate everything before mutating so a failed batch leaves no trace
	existing := c.find(doc.DocumentID)
	taken := make(map[string]bool)
	for _, d := range c.docs {
		if replace && d == existing {
			continue
		}
		for _, ch := range d.chunks {
			taken[ch.record.ChunkID] = true
		}
	}
	for i, chunk := range chunks {
		if len(chunk.Embedding) != c.info.EmbeddingDimensions {
			return fmt.Errorf("%w: chunk %d has %d dimensions, collection has %d",
				ErrDimensionMismatch, i, len(chunk.Embedding), c.info.EmbeddingDimensions)
		}
		if taken[chunk.ChunkID] {
			return fmt.Errorf("%w: %s", ErrDuplicateChunk, chunk.ChunkID)
		}
		taken[chunk.ChunkID] = true
	}

	now := time.Now().UTC().Truncate(time.Second)
	if existing == nil {
		existing = &memDocument{record: DocumentRecord{
			ID:           m.newID(),
			CollectionID: collectionID,
			DocumentID:   doc.DocumentID,
			Source:       doc.Source,
			Hash:         doc.Hash,
			FileSize:     doc.FileSize,
			IndexedAt:    now,
		}}
		c.docs = append(c.docs, existing)
	} else if replace {
		existing.chunks = nil
		existing.record.Source = doc.Source
		existing.record.Hash = doc.Hash
		existing.record.FileSize = doc.FileSize
		existing.record.IndexedAt = now
	}

	for _, chunk := range chunks {
		existing.chunks = append(existing.chunks, memChunk{
			record: ChunkRecord{
				ID:         m.newID(),
				ChunkID:    chunk.ChunkID,
				DocumentID: doc.DocumentID,
				Source:     existing.record.Source,
				Index:      chunk.Index,
				Content:    chunk.Content,
				Metadata:   maps.Clone(chunk.Metadata),
			},
			embedding: append([]float32(nil), chunk.Embedding...),
		})
	}
	c.info.UpdatedAt = now

	return nil
}

func (c *memCollection) find(documentID string) *memDocument {
	for _, d := range c.docs {
		if d.record.DocumentID == documentID {
			return d
		}
	}
	return nil
}

// DeleteDocument removes a document; unknown ids are ignored.
func (m *MemoryStore) DeleteDocument(collectionID int64, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collectionID]
	if !ok {
		return nil
	}
	for i, d := range c.docs {
		if d.record.DocumentID == documentID {
			c.docs = append(c.docs[:i], c.docs[i+1:]...)
			break
		}
	}
	return nil
}

// GetDocument retrieves a document by id.
func (m *MemoryStore) GetDocument(collectionID int64, documentID string) (*DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collectionID]
	if !ok {
		return nil, nil
	}
	if d := c.find(documentID); d != nil {
		record := d.record
		return &record, nil
	}
	return nil, nil
}

// ListDocuments returns one summary per document in insertion order.
func (m *MemoryStore) ListDocuments(collectionID int64) ([]DocumentSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collectionID]
	if !ok {
		return nil, nil
	}

	var out []DocumentSummary
	for _, d := range c.docs {
		out = append(out, DocumentSummary{DocumentRecord: d.record, Chunks: len(d.chunks)})
	}
	return out, nil
}

// Search ranks every chunk by cosine distance to the query.
func (m *MemoryStore) Search(collectionID int64, queryEmbedding []float32, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collectionID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrCollectionNotFound, collectionID)
	}
	if len(queryEmbedding) != c.info.EmbeddingDimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d",
			ErrDimensionMismatch, len(queryEmbedding), c.info.EmbeddingDimensions)
	}

	var results []SearchResult
	for _, d := range c.docs {
		for _, ch := range d.chunks {
			distance := cosineDistance(queryEmbedding, ch.embedding)
			record := ch.record
			record.Metadata = maps.Clone(ch.record.Metadata)
			results = append(results, SearchResult{
				Chunk:    record,
				Distance: distance,
				Score:    1 - distance,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// CountChunks returns the number of chunks in a collection.
func (m *MemoryStore) CountChunks(collectionID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collectionID]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, d := range c.docs {
		n += len(d.chunks)
	}
	return n, nil
}

// GetStats returns statistics for a collection.
func (m *MemoryStore) GetStats(collectionID int64) (*CollectionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collectionID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrCollectionNotFound, collectionID)
	}

	stats := &CollectionStats{
		CollectionID:   collectionID,
		CollectionName: c.info.Name,
		DocumentCount:  len(c.docs),
	}
	for _, d := range c.docs {
		stats.ChunkCount += len(d.chunks)
		stats.TotalSize += d.record.FileSize
	}
	return stats, nil
}

// ClearCollection removes all documents from a collection.
func (m *MemoryStore) ClearCollection(collectionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.collections[collectionID]; ok {
		c.docs = nil
	}
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// cosineDistance returns 1 - cos(a, b), matching sqlite-vec's cosine metric.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
