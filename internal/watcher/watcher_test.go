package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/qitops/internal/config"
	"github.com/nickcecere/qitops/internal/embeddings/embedtest"
	"github.com/nickcecere/qitops/internal/indexer"
	"github.com/nickcecere/qitops/internal/store"
)

const ticketsJSON = `{"tickets": [{"key": "QA-1", "test_cases": [{"id": "TC1", "description": "login succeeds"}]}]}`

// fakeIngester records ingested paths.
type fakeIngester struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeIngester) IngestFile(_ context.Context, path string) (*indexer.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return &indexer.Report{Files: 1, Documents: 1}, nil
}

func (f *fakeIngester) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func testDataConfig() config.DataConfig {
	cfg := config.DefaultConfig().Data
	cfg.Ignore = append(cfg.Ignore, "archive/")
	return cfg
}

// TestWatchedPaths tests which paths produce ingestion events.
func TestWatchedPaths(t *testing.T) {
	dir := t.TempDir()
	single := filepath.Join(t.TempDir(), "export.txt")
	require.NoError(t, os.WriteFile(single, []byte(ticketsJSON), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "archive"), 0755))

	w, err := New([]string{dir, single, filepath.Join(dir, "missing")}, &fakeIngester{}, testDataConfig())
	require.NoError(t, err)

	assert.Len(t, w.roots, 2)

	assert.True(t, w.watched(filepath.Join(dir, "cases.json")))
	assert.True(t, w.watched(filepath.Join(dir, "nested", "perf.JSON")))
	assert.True(t, w.watched(single))

	assert.False(t, w.watched(filepath.Join(dir, "notes.md")))
	assert.False(t, w.watched(filepath.Join(dir, ".hidden.json")))
	assert.False(t, w.watched(filepath.Join(filepath.Dir(single), "sibling.json")))
	assert.True(t, w.skip(filepath.Join(dir, "archive")))
}

// TestWatcherIngestsNewFiles tests end to end change detection.
func TestWatcherIngestsNewFiles(t *testing.T) {
	dir := t.TempDir()
	ing := &fakeIngester{}

	var mu sync.Mutex
	var events []string
	w, err := New([]string{dir}, ing, testDataConfig(),
		WithDebounceTime(20*time.Millisecond),
		WithEventCallback(func(event, path string) {
			mu.Lock()
			events = append(events, event+":"+path)
			mu.Unlock()
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	select {
	case <-w.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not start")
	}

	path := filepath.Join(dir, "cases.json")
	require.NoError(t, os.WriteFile(path, []byte(ticketsJSON), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0644))

	assert.Eventually(t, func() bool {
		return len(ing.Paths()) > 0
	}, 5*time.Second, 10*time.Millisecond)

	for _, p := range ing.Paths() {
		assert.Equal(t, path, p)
	}

	mu.Lock()
	assert.Contains(t, events, EventIngest+":cases.json")
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

// TestFlushIngestsIntoStore tests the debounced flush against a real indexer.
func TestFlushIngestsIntoStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cases.json")
	require.NoError(t, os.WriteFile(path, []byte(ticketsJSON), 0644))

	st := store.New(embedtest.NewLexical())
	cfg := testDataConfig()
	idx := indexer.New(st, cfg)

	var events []string
	w, err := New([]string{dir}, idx, cfg, WithEventCallback(func(event, _ string) {
		events = append(events, event)
	}))
	require.NoError(t, err)

	w.debounce[path] = fsnotify.Create
	w.debounce[filepath.Join(dir, "gone.json")] = fsnotify.Remove
	w.flushDebounced(context.Background())

	assert.Equal(t, 1, st.Size())
	assert.Equal(t, []string{EventIngest, EventRemove}, events)

	// Unchanged content is not appended twice
	w.debounce[path] = fsnotify.Write
	w.flushDebounced(context.Background())
	assert.Equal(t, 1, st.Size())
	assert.Len(t, events, 2)

	// An edit appends only the records that are new
	require.NoError(t, os.WriteFile(path, []byte(`{"tickets": [{"key": "QA-1", "test_cases": [
  {"id": "TC1", "description": "login succeeds"},
  {"id": "TC2", "description": "logout on timeout"}
]}]}`), 0644))
	w.debounce[path] = fsnotify.Write
	w.flushDebounced(context.Background())

	require.Equal(t, 2, st.Size())
	_, doc, err := st.EntryAt(1)
	require.NoError(t, err)
	assert.Equal(t, "Test case TC2: logout on timeout", doc.Content)
	assert.Equal(t, []string{EventIngest, EventRemove, EventIngest}, events)
}
