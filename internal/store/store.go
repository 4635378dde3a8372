package store

import (
	"fmt"

	"github.com/nickcecere/docrag/internal/config"
)

// Store defines the interface for vector storage operations.
//
// Writes that touch several rows run as one transaction: either every
// chunk of a batch is stored or none is.
type Store interface {
	// Collection management
	EnsureCollection(name, model string, dimensions int) (*Collection, error)
	GetCollection(name string) (*Collection, error)
	ListCollections() ([]Collection, error)
	DeleteCollection(name string) error

	// Document operations
	AddChunks(collectionID int64, doc DocumentInput, chunks []Chunk) error
	ReplaceDocument(collectionID int64, doc DocumentInput, chunks []Chunk) error
	DeleteDocument(collectionID int64, documentID string) error
	GetDocument(collectionID int64, documentID string) (*DocumentRecord, error)
	ListDocuments(collectionID int64) ([]DocumentSummary, error)

	// Search returns up to topK chunks nearest to the query, closest first.
	Search(collectionID int64, queryEmbedding []float32, topK int) ([]SearchResult, error)

	// Stats
	CountChunks(collectionID int64) (int, error)
	GetStats(collectionID int64) (*CollectionStats, error)

	// Maintenance
	ClearCollection(collectionID int64) error
	Close() error
}

// Open creates the store selected by the configuration.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Database.Backend {
	case "", "sqlite":
		return NewSQLiteStore(cfg.Database.Path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database backend: %s", cfg.Database.Backend)
	}
}
