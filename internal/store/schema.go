package store

import (
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"
)

const currentSchemaVersion = 1

// Schema definitions
const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);
`

const collectionsTable = `
CREATE TABLE IF NOT EXISTS collections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL,
	embedding_model TEXT NOT NULL,
	embedding_dimensions INTEGER NOT NULL,
	created_at TEXT DEFAULT (datetime('now')),
	updated_at TEXT DEFAULT (datetime('now'))
);
`

const documentsTable = `
CREATE TABLE IF NOT EXISTS documents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	collection_id INTEGER NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
	document_id TEXT NOT NULL,
	source TEXT NOT NULL,
	hash TEXT NOT NULL DEFAULT '',
	file_size INTEGER NOT NULL DEFAULT 0,
	indexed_at TEXT DEFAULT (datetime('now')),
	UNIQUE(collection_id, document_id)
);

CREATE INDEX IF NOT EXISTS idx_documents_collection_id ON documents(collection_id);
`

const chunksTable = `
CREATE TABLE IF NOT EXISTS chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	collection_id INTEGER NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
	document_row_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	UNIQUE(collection_id, chunk_id)
);

CREATE INDEX IF NOT EXISTS idx_chunks_document_row_id ON chunks(document_row_id);
`

// vectorTableName returns the sqlite-vec table holding a collection's embeddings.
// Each collection gets its own table because vec0 columns have a fixed width.
func vectorTableName(collectionID int64) string {
	return fmt.Sprintf("chunk_vectors_%d", collectionID)
}

// createVectorTable creates the sqlite-vec virtual table for a collection.
func createVectorTable(exec interface {
	Exec(string, ...any) (sql.Result, error)
}, collectionID int64, dimensions int) error {
	query := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(
			chunk_rowid INTEGER PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, vectorTableName(collectionID), dimensions)

	_, err := exec.Exec(query)
	return err
}

// initSchema initializes the database schema.
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		version = 0
	} else if err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if version >= currentSchemaVersion {
		log.Debug("Schema is up to date", "version", version)
		return nil
	}

	log.Debug("Migrating schema", "from", version, "to", currentSchemaVersion)

	if version < 1 {
		if err := migrateV1(db); err != nil {
			return fmt.Errorf("failed to migrate to v1: %w", err)
		}
	}

	return nil
}

// migrateV1 creates the initial schema. Vector tables are created per
// collection once its dimension is known.
func migrateV1(db *sql.DB) error {
	log.Debug("Applying migration v1")

	tables := []string{collectionsTable, documentsTable, chunksTable}
	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if _, err := db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", 1); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}
