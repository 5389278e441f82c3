package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/qitops/internal/config"
	"github.com/nickcecere/qitops/internal/embeddings"
	"github.com/nickcecere/qitops/internal/indexer"
	"github.com/nickcecere/qitops/internal/llm"
	"github.com/nickcecere/qitops/internal/search"
	"github.com/nickcecere/qitops/internal/store"
	"github.com/nickcecere/qitops/internal/ui"
	"github.com/nickcecere/qitops/internal/watcher"
)

// app wires the components shared by the commands.
type app struct {
	cfg       *config.Config
	emb       embeddings.Service
	store     *store.Store
	indexer   *indexer.Indexer
	retriever *search.Retriever
	closeEmb  func() error
}

// newApp builds the embedding service, store, indexer and retriever.
func newApp(cfg *config.Config) (*app, error) {
	emb, closeEmb, err := embeddings.NewCachedServiceFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding service: %w", err)
	}

	st := store.New(emb)
	return &app{
		cfg:       cfg,
		emb:       emb,
		store:     st,
		indexer:   indexer.New(st, cfg.Data),
		retriever: search.NewRetriever(st, emb),
		closeEmb:  closeEmb,
	}, nil
}

// Close releases the embedding cache.
func (a *app) Close() error {
	return a.closeEmb()
}

// ingest loads paths into the store, showing a spinner on w when it is set.
// Per-file failures are logged by the indexer and do not fail the command.
func (a *app) ingest(ctx context.Context, paths []string, w io.Writer) (*indexer.Report, error) {
	var spinner *ui.Spinner
	if w != nil {
		spinner = ui.StartSpinner(w, "Loading QA records")
	}

	report, err := a.indexer.Ingest(ctx, paths, indexer.Options{})

	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return nil, fmt.Errorf("ingestion cancelled: %w", err)
	}

	if a.store.Size() == 0 {
		log.Warn("No QA records loaded; answers will not be grounded", "paths", paths)
	}
	return report, nil
}

// orchestrator creates the LLM service and the chat orchestrator over it.
func (a *app) orchestrator() (*llm.Orchestrator, error) {
	svc, err := llm.NewService(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM service: %w", err)
	}
	return llm.NewOrchestrator(a.retriever, svc, llm.AnswerOptionsFromConfig(a.cfg)), nil
}

// watch ingests record files that change under paths until ctx is done.
func (a *app) watch(ctx context.Context, paths []string) {
	w, err := watcher.New(paths, a.indexer, a.cfg.Data,
		watcher.WithDebounceTime(time.Second),
		watcher.WithEventCallback(func(event, path string) {
			log.Debug("Watcher event", "event", event, "path", path)
		}),
	)
	if err != nil {
		log.Error("Failed to create watcher", "error", err)
		return
	}

	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		log.Error("Watcher error", "error", err)
	}
}

// dataPaths returns the paths given on the command line, or the configured ones.
func dataPaths(args []string, cfg *config.Config) []string {
	if len(args) > 0 {
		return args
	}
	return cfg.Data.Paths
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
