// Package watcher ingests record files as they appear or change on disk.
package watcher

import (
	"context"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/nickcecere/qitops/internal/config"
	"github.com/nickcecere/qitops/internal/indexer"
	"github.com/nickcecere/qitops/internal/records"
)

// Event names passed to the event callback.
const (
	EventIngest = "ingest"
	EventRemove = "remove"
	EventError  = "error"
)

// Ingester is the part of the indexer the watcher drives.
type Ingester interface {
	IngestFile(ctx context.Context, path string) (*indexer.Report, error)
}

// Watcher watches data paths and ingests created or modified record files.
//
// The store is append-only, so a modified file contributes only the records
// the store does not hold yet and a removed file only produces a log line.
type Watcher struct {
	roots    []string        // directories handed to fsnotify
	dirRoots []string        // roots given as directories
	files    map[string]bool // explicitly named files
	ingester Ingester
	ignorer  *gitignore.GitIgnore

	// debounce holds pending file events to batch process
	debounce     map[string]fsnotify.Op
	debounceMu   sync.Mutex
	debounceTime time.Duration

	ready chan struct{}

	// callback for status updates
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

// New creates a watcher over the given data paths. Each path may be a
// directory or a single record file.
func New(paths []string, ing Ingester, cfg config.DataConfig, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		files:        make(map[string]bool),
		ingester:     ing,
		ignorer:      gitignore.CompileIgnoreLines(cfg.Ignore...),
		debounce:     make(map[string]fsnotify.Op),
		debounceTime: 500 * time.Millisecond,
		ready:        make(chan struct{}),
		onEvent:      func(string, string) {}, // noop default
	}

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			log.Warn("Not watching missing data path", "path", p)
			continue
		}
		if info.IsDir() {
			w.dirRoots = append(w.dirRoots, abs)
		} else {
			w.files[abs] = true
			abs = filepath.Dir(abs)
		}
		if !slices.Contains(w.roots, abs) {
			w.roots = append(w.roots, abs)
		}
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Ready is closed once all directories are being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Start begins watching for file changes. Blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	for _, root := range w.roots {
		if slices.Contains(w.dirRoots, root) {
			w.addDirectories(fsw, root)
		} else if err := fsw.Add(root); err != nil {
			log.Debug("Failed to watch directory", "path", root, "error", err)
		}
	}
	close(w.ready)

	log.Info("Watching for record file changes", "paths", w.roots)

	go w.processDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, fsw)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Error("Watcher error", "error", err)
		}
	}
}

// addDirectories recursively adds the directories under root.
func (w *Watcher) addDirectories(fsw *fsnotify.Watcher, root string) {
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && w.skip(path) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			log.Debug("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// rel returns path relative to the watch root that contains it.
func (w *Watcher) rel(path string) string {
	for _, root := range w.roots {
		if r, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(r, "..") {
			return r
		}
	}
	return path
}

// skip reports whether a path is hidden or matches an ignore pattern.
func (w *Watcher) skip(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return true
	}
	rel := w.rel(path)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		rel += "/"
	}
	return w.ignorer.MatchesPath(rel)
}

// watched reports whether events for path should be processed.
func (w *Watcher) watched(path string) bool {
	if w.files[path] {
		return true
	}
	return w.underDirRoot(path) && records.IsRecordFile(path) && !w.skip(path)
}

// underDirRoot reports whether path lies under a root given as a directory.
func (w *Watcher) underDirRoot(path string) bool {
	for _, root := range w.dirRoots {
		if r, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(r, "..") {
			return true
		}
	}
	return false
}

// handleEvent processes a single file system event.
func (w *Watcher) handleEvent(event fsnotify.Event, fsw *fsnotify.Watcher) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.underDirRoot(path) && !w.skip(path) {
				w.addDirectories(fsw, path)
				log.Debug("Added directory to watch", "path", w.rel(path))
			}
			return
		}
	}

	if !w.watched(path) {
		return
	}

	w.debounceMu.Lock()
	w.debounce[path] |= event.Op
	w.debounceMu.Unlock()
}

// processDebounced processes debounced file events periodically.
func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flushDebounced(ctx)
		}
	}
}

// flushDebounced processes all pending debounced events in path order.
func (w *Watcher) flushDebounced(ctx context.Context) {
	w.debounceMu.Lock()
	if len(w.debounce) == 0 {
		w.debounceMu.Unlock()
		return
	}
	events := w.debounce
	w.debounce = make(map[string]fsnotify.Op)
	w.debounceMu.Unlock()

	for _, path := range slices.Sorted(maps.Keys(events)) {
		if ctx.Err() != nil {
			return
		}

		op := events[path]
		relPath := w.rel(path)

		if _, err := os.Stat(path); err != nil {
			if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
				log.Info("Record file removed, its entries stay in the index", "file", relPath)
				w.onEvent(EventRemove, relPath)
			}
			continue
		}

		if !op.Has(fsnotify.Create) && !op.Has(fsnotify.Write) && !op.Has(fsnotify.Rename) {
			continue
		}

		report, err := w.ingester.IngestFile(ctx, path)
		if err == nil {
			err = report.Err()
		}
		if err != nil {
			log.Error("Failed to ingest record file", "path", relPath, "error", err)
			w.onEvent(EventError, relPath)
			continue
		}
		if report.Files > 0 {
			log.Info("Ingested", "file", relPath, "documents", report.Documents)
			w.onEvent(EventIngest, relPath)
		}
	}
}
