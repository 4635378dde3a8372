// Package watcher re-ingests PDFs as they change on disk.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/fs"
	"github.com/nickcecere/docrag/internal/indexer"
	"github.com/nickcecere/docrag/internal/rag"
)

// Event names passed to the event callback.
const (
	EventIngest = "ingest"
	EventDelete = "delete"
)

// Watcher watches a directory tree and keeps the index in sync with the
// PDFs under it. Document ids are paths relative to the root, the same
// ids directory ingestion assigns.
type Watcher struct {
	root   string
	walker *fs.FileWalker
	system *rag.System
	cfg    *config.Config

	// pending holds file events not yet processed, keyed by absolute path
	pending      map[string]fsnotify.Op
	pendingMu    sync.Mutex
	debounceTime time.Duration

	onEvent func(event string, path string)
}

// Option configures the watcher.
type Option func(*Watcher)

// WithDebounceTime sets the debounce duration for batching events.
func WithDebounceTime(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounceTime = d
	}
}

// WithEventCallback sets a callback for file events.
func WithEventCallback(fn func(event string, path string)) Option {
	return func(w *Watcher) {
		w.onEvent = fn
	}
}

// New creates a watcher for root.
func New(root string, sys *rag.System, cfg *config.Config, opts ...Option) (*Watcher, error) {
	walker, err := fs.NewFileWalker(fs.WalkOptions{
		Root:           root,
		MaxFileSize:    cfg.RAG.MaxFileSize,
		IgnorePatterns: cfg.Ignore,
		UseGitignore:   true,
		Extensions:     []string{".pdf"},
	})
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:         walker.Root(),
		walker:       walker,
		system:       sys,
		cfg:          cfg,
		pending:      make(map[string]fsnotify.Op),
		debounceTime: cfg.Watch.Debounce,
		onEvent:      func(string, string) {},
	}
	if w.debounceTime <= 0 {
		w.debounceTime = config.DefaultWatchDebounce
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Root returns the absolute directory being watched.
func (w *Watcher) Root() string {
	return w.root
}

// Start begins watching for file changes. Blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addDirectories(fw); err != nil {
		return err
	}

	log.Info("Watching for changes", "root", w.root, "debounce", w.debounceTime)

	go w.processDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.Notify(event) {
				if err := fw.Add(event.Name); err != nil {
					log.Debug("Failed to watch directory", "path", event.Name, "error", err)
				}
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Error("Watcher error", "error", err)
		}
	}
}

// addDirectories adds every directory under root that is not ignored.
func (w *Watcher) addDirectories(fw *fsnotify.Watcher) error {
	return filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != w.root && w.walker.Skip(w.rel(path), true) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			log.Debug("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// Notify queues a file event. It returns true when the event created a
// directory that should be watched too.
func (w *Watcher) Notify(event fsnotify.Event) bool {
	path := event.Name
	rel := w.rel(path)

	info, statErr := os.Stat(path)
	if statErr == nil && info.IsDir() {
		return event.Has(fsnotify.Create) && !w.walker.Skip(rel, true)
	}

	if !w.walker.Extension(path) || w.walker.Skip(rel, false) {
		return false
	}

	w.pendingMu.Lock()
	w.pending[path] |= event.Op
	w.pendingMu.Unlock()
	return false
}

// Pending returns the number of queued paths.
func (w *Watcher) Pending() int {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	return len(w.pending)
}

func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}

// Flush processes every queued event. A path that exists on disk is
// re-ingested (unchanged content is skipped by hash); a path that is gone
// is removed from the index.
func (w *Watcher) Flush(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	events := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	for path := range events {
		if ctx.Err() != nil {
			return
		}

		rel := w.rel(path)
		id := indexer.DocumentID(rel)

		// The final state on disk decides, whatever sequence of ops arrived.
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := w.system.Delete(ctx, id); err != nil {
				log.Error("Failed to remove document", "path", rel, "error", err)
				continue
			}
			w.onEvent(EventDelete, rel)
			log.Info("Removed from index", "file", rel)
			continue
		}

		res, err := w.system.IngestDocument(ctx, indexer.Document{
			ID:     id,
			Path:   path,
			Source: rel,
		})
		if err != nil {
			log.Error("Failed to ingest document", "path", rel, "error", err)
			continue
		}
		if res.Skipped {
			log.Debug("Unchanged", "file", rel)
			continue
		}
		w.onEvent(EventIngest, rel)
	}
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return rel
}
