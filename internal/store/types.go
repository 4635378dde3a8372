// Package store provides vector storage and retrieval using SQLite and sqlite-vec.
package store

import (
	"errors"
	"time"
)

var (
	// ErrDuplicateChunk is returned when an added chunk id already exists in the collection.
	ErrDuplicateChunk = errors.New("chunk id already exists")

	// ErrDimensionMismatch is returned when a vector does not fit the collection.
	ErrDimensionMismatch = errors.New("embedding dimension does not match collection")

	// ErrCollectionNotFound is returned by writes against an unknown collection.
	ErrCollectionNotFound = errors.New("collection not found")
)

// Collection is a named group of documents embedded with one model.
type Collection struct {
	ID                  int64     `json:"id"`
	Name                string    `json:"name"`
	EmbeddingModel      string    `json:"embedding_model"`
	EmbeddingDimensions int       `json:"embedding_dimensions"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// DocumentInput describes the document that owns a batch of chunks.
type DocumentInput struct {
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	Hash       string `json:"hash"` // Content hash of the source file, may be empty
	FileSize   int64  `json:"file_size"`
}

// DocumentRecord represents an indexed document.
type DocumentRecord struct {
	ID           int64     `json:"id"`
	CollectionID int64     `json:"collection_id"`
	DocumentID   string    `json:"document_id"`
	Source       string    `json:"source"`
	Hash         string    `json:"hash"`
	FileSize     int64     `json:"file_size"`
	IndexedAt    time.Time `json:"indexed_at"`
}

// DocumentSummary is one row of a document listing.
type DocumentSummary struct {
	DocumentRecord
	Chunks int `json:"chunks"`
}

// Chunk is a chunk to be stored.
type Chunk struct {
	ChunkID   string            `json:"chunk_id"` // "{document_id}_{index}"
	Index     int               `json:"chunk_index"`
	Content   string            `json:"content"`
	Embedding []float32         `json:"-"`
	Metadata  map[string]string `json:"metadata"`
}

// ChunkRecord represents a stored chunk.
type ChunkRecord struct {
	ID         int64             `json:"id"`
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	Source     string            `json:"source"`
	Index      int               `json:"chunk_index"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
}

// SearchResult is a chunk with its distance from the query.
type SearchResult struct {
	Chunk    ChunkRecord `json:"chunk"`
	Distance float64     `json:"distance"` // Cosine distance
	Score    float64     `json:"score"`    // 1 - distance (similarity)
}

// CollectionStats contains statistics about a collection.
type CollectionStats struct {
	CollectionID   int64  `json:"collection_id"`
	CollectionName string `json:"collection_name"`
	DocumentCount  int    `json:"document_count"`
	ChunkCount     int    `json:"chunk_count"`
	TotalSize      int64  `json:"total_size"` // Total source file size in bytes
}
