package embeddings

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"
)

const cacheTable = `
CREATE TABLE IF NOT EXISTS embedding_cache (
	key TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	dimensions INTEGER NOT NULL,
	vector BLOB NOT NULL,
	created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_embedding_cache_model ON embedding_cache(provider, model);
`

// CachedService wraps a Service and keeps document embeddings in SQLite so
// that re-ingesting unchanged records after a restart skips the provider.
//
// Only Embed is cached. Queries are ephemeral and always go to the provider.
// The in-memory index is still rebuilt on every start; the cache only holds
// text -> vector pairs.
type CachedService struct {
	inner Service
	db    *sql.DB

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedService opens (or creates) the cache database at dbPath.
func NewCachedService(inner Service, dbPath string) (*CachedService, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}

	if _, err := db.Exec(cacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
	}

	log.Debug("Opened embedding cache", "path", dbPath)

	return &CachedService{inner: inner, db: db}, nil
}

// Embed returns the cached embedding for text, calling the provider on a miss.
func (c *CachedService) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	if embedding, ok := c.lookup(ctx, key); ok {
		c.hits.Add(1)
		return embedding, nil
	}
	c.misses.Add(1)

	embedding, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.put(ctx, key, embedding); err != nil {
		// A cache write failure must not fail ingestion
		log.Warn("Failed to cache embedding", "error", err)
	}

	return embedding, nil
}

// EmbedQuery always calls the provider.
func (c *CachedService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.inner.EmbedQuery(ctx, text)
}

// Dimensions returns the wrapped service's dimensions.
func (c *CachedService) Dimensions() int {
	return c.inner.Dimensions()
}

// Provider returns the wrapped service's provider.
func (c *CachedService) Provider() Provider {
	return c.inner.Provider()
}

// ModelName returns the wrapped service's model.
func (c *CachedService) ModelName() string {
	return c.inner.ModelName()
}

// Stats returns the number of cache hits and misses since opening.
func (c *CachedService) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Purge removes every cached embedding of the wrapped model.
func (c *CachedService) Purge() error {
	_, err := c.db.Exec(`DELETE FROM embedding_cache WHERE provider = ? AND model = ?`,
		string(c.inner.Provider()), c.inner.ModelName())
	if err != nil {
		return fmt.Errorf("failed to purge embedding cache: %w", err)
	}
	return nil
}

// Close closes the cache database.
func (c *CachedService) Close() error {
	return c.db.Close()
}

// key identifies text under the wrapped provider, model and requested size.
func (c *CachedService) key(text string) string {
	h := xxhash.New()
	_, _ = h.WriteString(string(c.inner.Provider()))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(c.inner.ModelName())
	_, _ = fmt.Fprintf(h, "\x00%d\x00", requestedDimensions(c.inner))
	_, _ = h.WriteString(text)
	return fmt.Sprintf("%016x", h.Sum64())
}

func (c *CachedService) lookup(ctx context.Context, key string) ([]float32, bool) {
	var blob []byte
	var dims int
	err := c.db.QueryRowContext(ctx, `SELECT dimensions, vector FROM embedding_cache WHERE key = ?`, key).Scan(&dims, &blob)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Debug("Embedding cache lookup failed", "error", err)
		}
		return nil, false
	}

	embedding := deserializeEmbedding(blob)
	if len(embedding) != dims {
		log.Debug("Discarding corrupt cache entry", "key", key)
		return nil, false
	}
	if want := requestedDimensions(c.inner); want > 0 && dims != want {
		log.Debug("Discarding cache entry of another size", "key", key, "dimensions", dims, "requested", want)
		return nil, false
	}
	return embedding, true
}

func (c *CachedService) put(ctx context.Context, key string, embedding []float32) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO embedding_cache (key, provider, model, dimensions, vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, key, string(c.inner.Provider()), c.inner.ModelName(), len(embedding),
		serializeEmbedding(embedding), time.Now().UTC().Format(time.RFC3339))
	return err
}

// serializeEmbedding converts a float32 slice to little-endian bytes.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func deserializeEmbedding(buf []byte) []float32 {
	embedding := make([]float32, len(buf)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return embedding
}
