// Package indexer provides the document ingestion pipeline for docrag.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/extract"
	"github.com/nickcecere/docrag/internal/fs"
	"github.com/nickcecere/docrag/internal/index"
)

var (
	// ErrNoText is returned when a document has no extractable text.
	ErrNoText = errors.New("no extractable text")

	// ErrNoChunks is returned when chunking a document's text yields nothing.
	ErrNoChunks = errors.New("no chunks produced")

	// ErrNotPDF is returned for files without a .pdf extension.
	ErrNotPDF = errors.New("only PDF files are supported")

	// ErrFileTooLarge is returned for files over the configured size limit.
	ErrFileTooLarge = errors.New("file too large")
)

// Indexer runs documents through extraction, chunking and embedding into
// an index.
type Indexer struct {
	index     *index.Index
	extractor extract.Extractor
	chunker   fs.Chunker
	cfg       *config.Config

	// Progress tracking
	progress Progress
	mu       sync.Mutex
}

// Progress tracks directory ingestion progress.
type Progress struct {
	TotalFiles     int
	ProcessedFiles int
	SkippedFiles   int
	TotalChunks    int
	Errors         int
	StartTime      time.Time
	CurrentFile    string
}

// ProgressFunc is called to report progress during indexing.
type ProgressFunc func(Progress)

// Document describes one file to ingest.
type Document struct {
	// ID is the caller-chosen document id. Required.
	ID string

	// Path is the PDF on disk.
	Path string

	// Source is the label shown with retrieved chunks. Defaults to the
	// "source" metadata value, then to Path.
	Source string

	// Metadata is stored with every chunk; values are coerced to strings.
	Metadata map[string]any

	// Force re-indexes the document even if its content hash is unchanged.
	Force bool
}

// Result describes one ingested document.
type Result struct {
	DocumentID string        `json:"document_id"`
	Source     string        `json:"source"`
	Chunks     int           `json:"chunks"`
	Characters int           `json:"characters"`
	Hash       string        `json:"hash"`
	Skipped    bool          `json:"skipped"` // content unchanged since the last ingest
	Duration   time.Duration `json:"duration"`
}

// DirOptions configures directory ingestion.
type DirOptions struct {
	// Path is the directory to ingest.
	Path string

	// IgnorePatterns are additional patterns to ignore.
	IgnorePatterns []string

	// Metadata is attached to every document.
	Metadata map[string]any

	// Force re-indexes files even if unchanged.
	Force bool

	// OnProgress is called to report progress.
	OnProgress ProgressFunc
}

// New creates a new Indexer.
func New(ix *index.Index, ex extract.Extractor, ch fs.Chunker, cfg *config.Config) *Indexer {
	return &Indexer{
		index:     ix,
		extractor: ex,
		chunker:   ch,
		cfg:       cfg,
	}
}

// Index returns the index documents are written to.
func (idx *Indexer) Index() *index.Index {
	return idx.index
}

// CheckFile applies the upload guards: the path must be a regular .pdf file
// within the size limit.
func (idx *Indexer) CheckFile(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory: %s", path)
	}
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return nil, fmt.Errorf("%w: %s", ErrNotPDF, filepath.Base(path))
	}
	if limit := idx.cfg.RAG.MaxFileSize; limit > 0 && info.Size() > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrFileTooLarge, filepath.Base(path), info.Size(), limit)
	}
	return info, nil
}

// IndexDocument ingests one PDF. The document's previous chunks, if any, are
// replaced in the same transaction as the new ones are written, so a failed
// ingest leaves the index as it was.
func (idx *Indexer) IndexDocument(ctx context.Context, doc Document) (*Result, error) {
	start := time.Now()

	if doc.ID == "" {
		return nil, errors.New("document id cannot be empty")
	}

	info, err := idx.CheckFile(doc.Path)
	if err != nil {
		return nil, err
	}

	hash, err := fs.HashFile(doc.Path)
	if err != nil {
		return nil, err
	}

	base := index.MetadataFromMap(doc.Metadata)
	base.DocumentID = doc.ID
	switch {
	case doc.Source != "":
		base.Source = doc.Source
	case base.Source == "":
		base.Source = doc.Path
	}

	result := &Result{DocumentID: doc.ID, Source: base.Source, Hash: hash}

	// Check if file needs re-indexing
	if !doc.Force {
		existing, err := idx.index.Lookup(ctx, doc.ID)
		if err != nil {
			log.Debug("Error checking existing document", "id", doc.ID, "error", err)
		} else if existing != nil && existing.Hash == hash {
			log.Debug("Document unchanged, skipping", "id", doc.ID, "path", doc.Path)
			result.Skipped = true
			result.Duration = time.Since(start)
			return result, nil
		}
	}

	text, err := idx.extractor.Extract(ctx, doc.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text from %s: %w", doc.Path, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoText, doc.Path)
	}
	result.Characters = utf8.RuneCountInString(text)

	chunks := idx.chunker.Split(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoChunks, doc.Path)
	}

	log.Debug("Embedding chunks", "id", doc.ID, "chunks", len(chunks))
	vectors, err := idx.index.Provider().Encode(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	metas := make([]index.Metadata, len(chunks))
	for i := range metas {
		metas[i] = base
	}

	err = idx.index.Replace(ctx, index.Batch{
		DocumentID: doc.ID,
		Hash:       hash,
		FileSize:   info.Size(),
		Chunks:     chunks,
		Embeddings: vectors,
		Metadatas:  metas,
	})
	if err != nil {
		return nil, err
	}

	result.Chunks = len(chunks)
	result.Duration = time.Since(start)

	log.Debug("Indexed document", "id", doc.ID, "chunks", result.Chunks, "duration", result.Duration.Round(time.Millisecond))
	return result, nil
}

// IndexDir ingests every PDF under a directory. Document ids are the file
// paths relative to the directory. A failing file is logged and counted,
// and does not stop the walk.
func (idx *Indexer) IndexDir(ctx context.Context, opts DirOptions) ([]Result, error) {
	absPath, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", absPath)
	}

	idx.mu.Lock()
	idx.progress = Progress{
		StartTime: time.Now(),
	}
	idx.mu.Unlock()

	walker, err := fs.NewFileWalker(fs.WalkOptions{
		Root:           absPath,
		MaxFileSize:    idx.cfg.RAG.MaxFileSize,
		IgnorePatterns: append(append([]string{}, idx.cfg.Ignore...), opts.IgnorePatterns...),
		UseGitignore:   true,
		Extensions:     []string{".pdf"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create file walker: %w", err)
	}

	// First pass: collect files and count
	var files []fs.FileInfo
	err = walker.Walk(func(fi fs.FileInfo) error {
		files = append(files, fi)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	idx.mu.Lock()
	idx.progress.TotalFiles = len(files)
	idx.mu.Unlock()

	log.Info("Found documents to ingest", "count", len(files), "path", absPath)

	var results []Result
	for _, fi := range files {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		idx.mu.Lock()
		idx.progress.CurrentFile = fi.RelPath
		idx.mu.Unlock()

		res, err := idx.IndexDocument(ctx, Document{
			ID:       DocumentID(fi.RelPath),
			Path:     fi.Path,
			Source:   fi.RelPath,
			Metadata: opts.Metadata,
			Force:    opts.Force,
		})
		if err != nil {
			log.Warn("Failed to ingest document", "path", fi.RelPath, "error", err)
			idx.mu.Lock()
			idx.progress.Errors++
			idx.mu.Unlock()
			continue
		}
		results = append(results, *res)

		idx.mu.Lock()
		if res.Skipped {
			idx.progress.SkippedFiles++
		} else {
			idx.progress.ProcessedFiles++
			idx.progress.TotalChunks += res.Chunks
		}
		if opts.OnProgress != nil {
			opts.OnProgress(idx.progress)
		}
		idx.mu.Unlock()
	}

	p := idx.Progress()
	log.Info("Ingestion complete",
		"ingested", p.ProcessedFiles,
		"unchanged", p.SkippedFiles,
		"failed", p.Errors,
		"chunks", p.TotalChunks,
		"duration", time.Since(p.StartTime).Round(time.Millisecond),
	)

	return results, nil
}

// DocumentID returns the id used for a file found under an ingested
// directory: its relative path with forward slashes.
func DocumentID(relPath string) string {
	return filepath.ToSlash(relPath)
}

// Progress returns the current indexing progress.
func (idx *Indexer) Progress() Progress {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.progress
}
