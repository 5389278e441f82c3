// Package indexer loads QA record files and feeds their documents into a store.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/nickcecere/qitops/internal/config"
	"github.com/nickcecere/qitops/internal/records"
	"github.com/nickcecere/qitops/internal/store"
)

// Indexer ingests record files into a store.
//
// Files are read and parsed concurrently, then appended in walk order so the
// store's positions are reproducible. Files whose content was fully ingested
// are remembered by hash and skipped afterwards. Documents already committed
// are remembered by fingerprint, so retrying a partly ingested file or
// re-reading an edited one appends only the documents the store lacks.
type Indexer struct {
	store *store.Store
	cfg   config.DataConfig

	// ingestMu serializes ingestion runs
	ingestMu sync.Mutex

	mu        sync.Mutex
	seen      map[string]bool
	committed map[uint64]bool
	progress  Progress
}

// Progress tracks ingestion progress.
type Progress struct {
	TotalFiles     int
	ProcessedFiles int
	SkippedFiles   int
	Documents      int
	Errors         int
	StartTime      time.Time
	CurrentFile    string
}

// ProgressFunc is called to report progress during ingestion.
type ProgressFunc func(Progress)

// Options configures an ingestion run.
type Options struct {
	// Force re-ingests files whose content was already ingested and appends
	// their documents again.
	Force bool

	// Concurrency bounds parallel file loading. Zero uses GOMAXPROCS.
	Concurrency int

	// OnProgress is called after each file.
	OnProgress ProgressFunc
}

// Failure describes a file that was not fully ingested.
type Failure struct {
	Path      string
	Err       error
	Remaining []store.Document // Documents of the file not yet in the store
}

// Report summarizes an ingestion run.
type Report struct {
	Files     int // Files fully ingested
	Skipped   int // Files skipped as already ingested
	Documents int // Documents appended to the store
	Unchanged int // Documents skipped as already in the store
	Failures  []Failure
}

// Err joins the failures of the run, or returns nil.
func (r *Report) Err() error {
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = fmt.Errorf("%s: %w", f.Path, f.Err)
	}
	return errors.Join(errs...)
}

// New creates an indexer over st using the data settings in cfg.
func New(st *store.Store, cfg config.DataConfig) *Indexer {
	return &Indexer{
		store:     st,
		cfg:       cfg,
		seen:      make(map[string]bool),
		committed: make(map[uint64]bool),
	}
}

// Ingest loads every record file under paths into the store.
//
// Per-file problems are collected in the report and do not stop the run.
// The returned error is non-nil only when ctx is done.
func (idx *Indexer) Ingest(ctx context.Context, paths []string, opts Options) (*Report, error) {
	idx.ingestMu.Lock()
	defer idx.ingestMu.Unlock()

	report := &Report{}

	idx.mu.Lock()
	idx.progress = Progress{StartTime: time.Now()}
	idx.mu.Unlock()

	files := idx.collect(paths, opts, report)

	idx.mu.Lock()
	idx.progress.TotalFiles = len(files)
	idx.progress.SkippedFiles = report.Skipped
	idx.mu.Unlock()

	if len(files) == 0 {
		return report, ctx.Err()
	}

	loaded, loadErrs, err := load(ctx, files, opts.Concurrency)
	if err != nil {
		return report, err
	}

	for i, fi := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		idx.mu.Lock()
		idx.progress.CurrentFile = fi.RelPath
		idx.mu.Unlock()

		if loadErrs[i] != nil {
			log.Warn("Failed to load record file", "path", fi.RelPath, "error", loadErrs[i])
			idx.fail(report, Failure{Path: fi.Path, Err: loadErrs[i]}, opts)
			continue
		}

		file := loaded[i]
		if len(file.Documents) == 0 {
			log.Debug("No QA records in file", "path", fi.RelPath, "kind", file.Kind)
		}

		added, unchanged, err := idx.add(ctx, file, opts.Force)
		report.Documents += added
		report.Unchanged += unchanged
		if err != nil {
			var embErr *store.EmbeddingError
			failure := Failure{Path: fi.Path, Err: err}
			if errors.As(err, &embErr) {
				failure.Remaining = embErr.Remaining
				log.Warn("Failed to embed record",
					"path", fi.RelPath,
					"document", embErr.Document.Content,
					"remaining", len(embErr.Remaining),
					"error", embErr.Err,
				)
			} else {
				log.Warn("Failed to ingest record file", "path", fi.RelPath, "error", err)
			}
			idx.fail(report, failure, opts)
			continue
		}

		report.Files++
		idx.mu.Lock()
		idx.seen[fi.Hash] = true
		idx.progress.ProcessedFiles++
		idx.progress.Documents += added
		idx.notify(opts)
		idx.mu.Unlock()

		log.Debug("Ingested record file", "path", fi.RelPath, "kind", file.Kind, "documents", added, "unchanged", unchanged)
	}

	idx.mu.Lock()
	start := idx.progress.StartTime
	idx.mu.Unlock()

	log.Info("Ingestion complete",
		"files", report.Files,
		"documents", report.Documents,
		"skipped", report.Skipped,
		"failed", len(report.Failures),
		"size", idx.store.Size(),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return report, nil
}

// IngestFile ingests a single record file. Used by the watcher.
func (idx *Indexer) IngestFile(ctx context.Context, path string) (*Report, error) {
	return idx.Ingest(ctx, []string{path}, Options{Concurrency: 1})
}

// Progress returns the current ingestion progress.
func (idx *Indexer) Progress() Progress {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.progress
}

// collect walks paths and returns the files to ingest in walk order.
func (idx *Indexer) collect(paths []string, opts Options, report *Report) []records.FileInfo {
	var files []records.FileInfo
	batch := make(map[string]bool)

	for _, path := range paths {
		walker, err := records.NewWalker(records.WalkOptions{
			Root:           path,
			MaxFileSize:    int64(idx.cfg.MaxFileSize),
			IgnorePatterns: idx.cfg.Ignore,
		})
		if err != nil {
			log.Warn("Skipping data path", "path", path, "error", err)
			report.Failures = append(report.Failures, Failure{Path: path, Err: err})
			continue
		}

		_ = walker.Walk(func(fi records.FileInfo) error {
			idx.mu.Lock()
			seen := idx.seen[fi.Hash]
			idx.mu.Unlock()

			if batch[fi.Hash] || (seen && !opts.Force) {
				log.Debug("Record file unchanged, skipping", "path", fi.RelPath)
				report.Skipped++
				return nil
			}
			batch[fi.Hash] = true
			files = append(files, fi)
			return nil
		})

		stats := walker.Stats()
		log.Debug("Walked data path", "path", path, "found", stats.FilesFound, "skipped", stats.FilesSkipped)
	}

	return files
}

// load reads and parses files concurrently. Per-file errors are returned
// positionally; the error result is set only when ctx is done.
func load(ctx context.Context, files []records.FileInfo, concurrency int) ([]*records.File, []error, error) {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	loaded := make([]*records.File, len(files))
	errs := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, fi := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			loaded[i], errs[i] = records.Load(fi.Path)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return loaded, errs, nil
}

// add appends the documents of file the store does not hold yet. It returns
// how many were committed and how many were skipped as already present.
func (idx *Indexer) add(ctx context.Context, file *records.File, force bool) (int, int, error) {
	pending := make([]store.Document, 0, len(file.Documents))
	sums := make([]uint64, 0, len(file.Documents))

	idx.mu.Lock()
	for _, doc := range file.Documents {
		sum := fingerprint(doc)
		if idx.committed[sum] && !force {
			continue
		}
		pending = append(pending, doc)
		sums = append(sums, sum)
	}
	idx.mu.Unlock()

	unchanged := len(file.Documents) - len(pending)
	if len(pending) == 0 {
		return 0, unchanged, nil
	}

	before := idx.store.Size()
	err := idx.store.AddDocuments(ctx, pending)

	added := len(pending)
	if err != nil {
		var embErr *store.EmbeddingError
		if errors.As(err, &embErr) {
			added = embErr.Index
		} else {
			added = idx.store.Size() - before
		}
	}

	idx.mu.Lock()
	for _, sum := range sums[:added] {
		idx.committed[sum] = true
	}
	idx.mu.Unlock()

	return added, unchanged, err
}

// fingerprint identifies a document by its kind, content and metadata.
// fmt prints map keys in sorted order, so equal metadata hashes equally.
func fingerprint(doc store.Document) uint64 {
	h := xxhash.New()
	fmt.Fprintf(h, "%s\x00%s\x00%v", doc.Kind, doc.Content, doc.Metadata)
	return h.Sum64()
}

func (idx *Indexer) fail(report *Report, f Failure, opts Options) {
	report.Failures = append(report.Failures, f)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.progress.Errors++
	idx.notify(opts)
}

// notify must be called with idx.mu held.
func (idx *Indexer) notify(opts Options) {
	if opts.OnProgress != nil {
		opts.OnProgress(idx.progress)
	}
}
