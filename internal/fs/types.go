// Package fs finds documents on disk and splits their text into chunks.
package fs

import "time"

// FileInfo represents metadata about a document file.
type FileInfo struct {
	Path    string    // Absolute path to the file
	RelPath string    // Path relative to the root
	Size    int64     // File size in bytes
	ModTime time.Time // Last modification time
	Hash    string    // xxhash of file contents
}

// Chunk is one window of words cut from a document's text.
type Chunk struct {
	Content   string // Words joined by single spaces
	Index     int    // Position of this chunk within the document
	StartWord int    // Index of the first word in the source word sequence
	EndWord   int    // One past the last word
}

// WalkOptions configures the file walker.
type WalkOptions struct {
	// Root is the directory to start walking from.
	Root string

	// MaxFileSize is the maximum file size to process (in bytes).
	MaxFileSize int64

	// MaxFileCount is the maximum number of files to process.
	MaxFileCount int

	// IgnorePatterns are additional patterns to ignore (gitignore syntax).
	IgnorePatterns []string

	// IncludeHidden includes hidden files and directories.
	IncludeHidden bool

	// UseGitignore respects .gitignore files.
	UseGitignore bool

	// Extensions limits to specific file extensions. Defaults to ".pdf".
	Extensions []string
}

// ChunkOptions configures the chunker. Sizes are in words.
type ChunkOptions struct {
	ChunkSize    int
	ChunkOverlap int

	// MinChunkChars drops chunks whose joined text is shorter than this.
	MinChunkChars int
}

// DefaultWalkOptions returns sensible defaults for walking.
func DefaultWalkOptions() WalkOptions {
	return WalkOptions{
		MaxFileSize:  20 << 20,
		MaxFileCount: 10000,
		UseGitignore: true,
		Extensions:   []string{".pdf"},
	}
}

// DefaultChunkOptions returns sensible defaults for chunking.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{
		ChunkSize:     1000,
		ChunkOverlap:  200,
		MinChunkChars: 20,
	}
}

// Walker walks a directory tree and yields files.
type Walker interface {
	// Walk walks the directory tree and calls fn for each file.
	// The walk stops if fn returns an error.
	Walk(fn func(FileInfo) error) error

	// Stats returns statistics about the walk.
	Stats() WalkStats
}

// WalkStats contains statistics from a directory walk.
type WalkStats struct {
	FilesFound   int   // Total files found
	FilesSkipped int   // Files skipped due to size/pattern/etc
	DirsSkipped  int   // Directories skipped
	TotalBytes   int64 // Total bytes of files found
	SkippedBytes int64 // Total bytes of skipped files
}

// Chunker splits extracted text into chunks.
type Chunker interface {
	// Split returns the chunk texts in order.
	Split(text string) []string

	// Chunk returns the chunks with their word offsets.
	Chunk(text string) []Chunk
}
