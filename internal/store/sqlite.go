package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	sqlite3 "github.com/mattn/go-sqlite3"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register sqlite-vec extension
	sqlite_vec.Auto()
}

// SQLiteStore implements the Store interface using SQLite and sqlite-vec.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore creates a new SQLite store at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with foreign keys enabled
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug("Opened SQLite store", "path", dbPath)

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EnsureCollection returns the named collection, creating it with the given
// model and dimension if it does not exist yet. An existing collection with
// a different dimension is an error.
func (s *SQLiteStore) EnsureCollection(name, model string, dimensions int) (*Collection, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid embedding dimensions: %d", dimensions)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getCollection(name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.EmbeddingDimensions != dimensions {
			return nil, fmt.Errorf("%w: collection %q has %d dimensions, got %d",
				ErrDimensionMismatch, name, existing.EmbeddingDimensions, dimensions)
		}
		return existing, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	result, err := tx.Exec(`
		INSERT INTO collections (name, embedding_model, embedding_dimensions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, name, model, dimensions, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get collection ID: %w", err)
	}

	log.Debug("Creating vector table", "collection", name, "dimensions", dimensions)
	if err := createVectorTable(tx, id, dimensions); err != nil {
		return nil, fmt.Errorf("failed to create vector table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit collection: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339, now)
	return &Collection{
		ID:                  id,
		Name:                name,
		EmbeddingModel:      model,
		EmbeddingDimensions: dimensions,
		CreatedAt:           createdAt,
		UpdatedAt:           createdAt,
	}, nil
}

// GetCollection retrieves a collection by name.
func (s *SQLiteStore) GetCollection(name string) (*Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getCollection(name)
}

func (s *SQLiteStore) getCollection(name string) (*Collection, error) {
	var record Collection
	var createdAt, updatedAt string

	err := s.db.QueryRow(`
		SELECT id, name, embedding_model, embedding_dimensions, created_at, updated_at
		FROM collections WHERE name = ?
	`, name).Scan(
		&record.ID, &record.Name, &record.EmbeddingModel, &record.EmbeddingDimensions,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	record.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	record.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &record, nil
}

// ListCollections returns all collections.
func (s *SQLiteStore) ListCollections() ([]Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, name, embedding_model, embedding_dimensions, created_at, updated_at
		FROM collections ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var collections []Collection
	for rows.Next() {
		var record Collection
		var createdAt, updatedAt string

		if err := rows.Scan(
			&record.ID, &record.Name, &record.EmbeddingModel, &record.EmbeddingDimensions,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}

		record.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		record.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

		collections = append(collections, record)
	}

	return collections, rows.Err()
}

// DeleteCollection deletes a collection with all its documents and vectors.
func (s *SQLiteStore) DeleteCollection(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.QueryRow("SELECT id FROM collections WHERE name = ?", name).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get collection ID: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DROP TABLE IF EXISTS " + vectorTableName(id)); err != nil {
		return fmt.Errorf("failed to drop vector table: %w", err)
	}

	// Cascades to documents and chunks
	if _, err := tx.Exec("DELETE FROM collections WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}

	return tx.Commit()
}

// AddChunks inserts chunks for a document. Chunk ids that already exist in
// the collection fail the whole batch with ErrDuplicateChunk.
func (s *SQLiteStore) AddChunks(collectionID int64, doc DocumentInput, chunks []Chunk) error {
	return s.writeDocument(collectionID, doc, chunks, false)
}

// ReplaceDocument removes the document's existing chunks and inserts the new
// ones in a single transaction.
func (s *SQLiteStore) ReplaceDocument(collectionID int64, doc DocumentInput, chunks []Chunk) error {
	return s.writeDocument(collectionID, doc, chunks, true)
}

func (s *SQLiteStore) writeDocument(collectionID int64, doc DocumentInput, chunks []Chunk, replace bool) error {
	if len(chunks) == 0 {
		return fmt.Errorf("no chunks to store for document %q", doc.DocumentID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var dims int
	err = tx.QueryRow("SELECT embedding_dimensions FROM collections WHERE id = ?", collectionID).Scan(&dims)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: id %d", ErrCollectionNotFound, collectionID)
	}
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}

	for i, chunk := range chunks {
		if len(chunk.Embedding) != dims {
			return fmt.Errorf("%w: chunk %d has %d dimensions, collection has %d",
				ErrDimensionMismatch, i, len(chunk.Embedding), dims)
		}
	}

	vecTable := vectorTableName(collectionID)
	now := time.Now().UTC().Format(time.RFC3339)

	var docRowID int64
	err = tx.QueryRow("SELECT id FROM documents WHERE collection_id = ? AND document_id = ?",
		collectionID, doc.DocumentID).Scan(&docRowID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check existing document: %w", err)
	}

	switch {
	case docRowID > 0 && replace:
		_, err = tx.Exec("DELETE FROM "+vecTable+" WHERE chunk_rowid IN (SELECT id FROM chunks WHERE document_row_id = ?)", docRowID)
		if err != nil {
			return fmt.Errorf("failed to delete old vectors: %w", err)
		}

		if _, err = tx.Exec("DELETE FROM chunks WHERE document_row_id = ?", docRowID); err != nil {
			return fmt.Errorf("failed to delete old chunks: %w", err)
		}

		_, err = tx.Exec(`
			UPDATE documents SET source = ?, hash = ?, file_size = ?, indexed_at = ?
			WHERE id = ?
		`, doc.Source, doc.Hash, doc.FileSize, now, docRowID)
		if err != nil {
			return fmt.Errorf("failed to update document: %w", err)
		}
	case docRowID == 0:
		result, err := tx.Exec(`
			INSERT INTO documents (collection_id, document_id, source, hash, file_size, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, collectionID, doc.DocumentID, doc.Source, doc.Hash, doc.FileSize, now)
		if err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
		docRowID, _ = result.LastInsertId()
	}

	for i, chunk := range chunks {
		metadata, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for chunk %d: %w", i, err)
		}

		result, err := tx.Exec(`
			INSERT INTO chunks (collection_id, document_row_id, chunk_id, chunk_index, content, metadata)
			VALUES (?, ?, ?, ?, ?, ?)
		`, collectionID, docRowID, chunk.ChunkID, chunk.Index, chunk.Content, string(metadata))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateChunk, chunk.ChunkID)
			}
			return fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}

		rowID, _ := result.LastInsertId()

		_, err = tx.Exec("INSERT INTO "+vecTable+" (chunk_rowid, embedding) VALUES (?, ?)",
			rowID, serializeEmbedding(chunk.Embedding))
		if err != nil {
			return fmt.Errorf("failed to insert vector for chunk %d: %w", i, err)
		}
	}

	if _, err := tx.Exec("UPDATE collections SET updated_at = ? WHERE id = ?", now, collectionID); err != nil {
		return fmt.Errorf("failed to touch collection: %w", err)
	}

	return tx.Commit()
}

// DeleteDocument deletes a document with its chunks and vectors. Deleting an
// unknown document is not an error.
func (s *SQLiteStore) DeleteDocument(collectionID int64, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var docRowID int64
	err := s.db.QueryRow("SELECT id FROM documents WHERE collection_id = ? AND document_id = ?",
		collectionID, documentID).Scan(&docRowID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get document ID: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec("DELETE FROM "+vectorTableName(collectionID)+" WHERE chunk_rowid IN (SELECT id FROM chunks WHERE document_row_id = ?)", docRowID)
	if err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}

	// Cascades to chunks
	if _, err := tx.Exec("DELETE FROM documents WHERE id = ?", docRowID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	return tx.Commit()
}

// GetDocument retrieves a document by its caller-chosen id.
func (s *SQLiteStore) GetDocument(collectionID int64, documentID string) (*DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record DocumentRecord
	var indexedAt string

	err := s.db.QueryRow(`
		SELECT id, collection_id, document_id, source, hash, file_size, indexed_at
		FROM documents WHERE collection_id = ? AND document_id = ?
	`, collectionID, documentID).Scan(
		&record.ID, &record.CollectionID, &record.DocumentID,
		&record.Source, &record.Hash, &record.FileSize, &indexedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	record.IndexedAt, _ = time.Parse(time.RFC3339, indexedAt)
	return &record, nil
}

// ListDocuments returns one summary per document, in insertion order.
func (s *SQLiteStore) ListDocuments(collectionID int64) ([]DocumentSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT d.id, d.collection_id, d.document_id, d.source, d.hash, d.file_size, d.indexed_at,
			COUNT(c.id)
		FROM documents d
		JOIN chunks c ON c.document_row_id = d.id
		WHERE d.collection_id = ?
		GROUP BY d.id
		ORDER BY d.id
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentSummary
	for rows.Next() {
		var summary DocumentSummary
		var indexedAt string

		if err := rows.Scan(
			&summary.ID, &summary.CollectionID, &summary.DocumentID,
			&summary.Source, &summary.Hash, &summary.FileSize, &indexedAt,
			&summary.Chunks,
		); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		summary.IndexedAt, _ = time.Parse(time.RFC3339, indexedAt)
		docs = append(docs, summary)
	}

	return docs, rows.Err()
}

// Search performs a vector similarity search within one collection.
func (s *SQLiteStore) Search(collectionID int64, queryEmbedding []float32, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var dims int
	err := s.db.QueryRow("SELECT embedding_dimensions FROM collections WHERE id = ?", collectionID).Scan(&dims)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %d", ErrCollectionNotFound, collectionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	if len(queryEmbedding) != dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d",
			ErrDimensionMismatch, len(queryEmbedding), dims)
	}

	// One vector table per collection, so k needs no headroom for filtering
	rows, err := s.db.Query(`
		SELECT
			c.id, c.chunk_id, d.document_id, d.source, c.chunk_index, c.content, c.metadata,
			v.distance
		FROM `+vectorTableName(collectionID)+` v
		JOIN chunks c ON c.id = v.chunk_rowid
		JOIN documents d ON d.id = c.document_row_id
		WHERE v.embedding MATCH ?
			AND k = ?
		ORDER BY v.distance ASC
	`, serializeEmbedding(queryEmbedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var result SearchResult
		var metadata string

		if err := rows.Scan(
			&result.Chunk.ID, &result.Chunk.ChunkID, &result.Chunk.DocumentID, &result.Chunk.Source,
			&result.Chunk.Index, &result.Chunk.Content, &metadata,
			&result.Distance,
		); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}

		if err := json.Unmarshal([]byte(metadata), &result.Chunk.Metadata); err != nil {
			log.Debug("Ignoring unreadable chunk metadata", "chunk", result.Chunk.ChunkID, "error", err)
		}
		result.Score = 1 - result.Distance

		results = append(results, result)
	}

	return results, rows.Err()
}

// CountChunks returns the number of chunks in a collection.
func (s *SQLiteStore) CountChunks(collectionID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM chunks WHERE collection_id = ?", collectionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// GetStats returns statistics for a collection.
func (s *SQLiteStore) GetStats(collectionID int64) (*CollectionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := CollectionStats{CollectionID: collectionID}

	err := s.db.QueryRow("SELECT name FROM collections WHERE id = ?", collectionID).Scan(&stats.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection name: %w", err)
	}

	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(file_size), 0)
		FROM documents WHERE collection_id = ?
	`, collectionID).Scan(&stats.DocumentCount, &stats.TotalSize)
	if err != nil {
		return nil, fmt.Errorf("failed to get document stats: %w", err)
	}

	err = s.db.QueryRow("SELECT COUNT(*) FROM chunks WHERE collection_id = ?", collectionID).Scan(&stats.ChunkCount)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk count: %w", err)
	}

	return &stats, nil
}

// ClearCollection removes all documents and chunks but keeps the collection.
func (s *SQLiteStore) ClearCollection(collectionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM " + vectorTableName(collectionID)); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}

	// Cascades to chunks
	if _, err := tx.Exec("DELETE FROM documents WHERE collection_id = ?", collectionID); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}

	return tx.Commit()
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// serializeEmbedding converts a float32 slice to bytes for sqlite-vec.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}
