// Package search ranks stored QA documents against a query.
package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/qitops/internal/embeddings"
	"github.com/nickcecere/qitops/internal/store"
)

var (
	// ErrInvalidK is returned when a search asks for fewer than one result.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyQuery is returned when the query text is empty.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrModelMismatch is returned when the query embedder is not the model
	// the store was built with.
	ErrModelMismatch = errors.New("query embedding model does not match store")
)

// Result is one ranked document.
type Result struct {
	Document store.Document `json:"document"`
	Score    float64        `json:"score"`    // Cosine similarity, higher is better
	Position int            `json:"position"` // Insertion position in the store
}

// Engine scores every stored entry against a query embedding.
type Engine struct {
	store *store.Store
}

// NewEngine creates a search engine over st.
func NewEngine(st *store.Store) *Engine {
	return &Engine{store: st}
}

// Search returns the k entries most similar to query, best first.
//
// Every entry is scored. Equal scores keep insertion order. An empty store
// yields an empty result for any k.
func (e *Engine) Search(query store.Embedding, k int) ([]Result, error) {
	snap := e.store.Snapshot()
	if len(snap.Documents) == 0 {
		return []Result{}, nil
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if len(query) != snap.Dimensions {
		return nil, &store.DimensionError{Want: snap.Dimensions, Got: len(query)}
	}

	scored := make([]Result, len(snap.Embeddings))
	for i, embedding := range snap.Embeddings {
		scored[i] = Result{Score: Cosine(query, embedding), Position: i}
	}

	slices.SortStableFunc(scored, func(a, b Result) int {
		return cmp.Compare(b.Score, a.Score)
	})

	results := scored[:min(k, len(scored))]
	for i := range results {
		results[i].Document = snap.Documents[results[i].Position].Clone()
	}

	log.Debug("Searched store", "entries", len(snap.Documents), "k", k, "results", len(results))
	return results, nil
}

// Options configures a text search.
type Options struct {
	// TopK is the maximum number of results to return.
	TopK int

	// MinScore filters results below this similarity score.
	MinScore float64
}

// DefaultOptions returns the defaults used by the CLI.
func DefaultOptions() Options {
	return Options{
		TopK:     10,
		MinScore: 0.0,
	}
}

// Retriever embeds query text and searches a store with it.
type Retriever struct {
	engine   *Engine
	store    *store.Store
	embedder embeddings.Service
}

// NewRetriever creates a retriever. emb must be the model st was built with.
func NewRetriever(st *store.Store, emb embeddings.Service) *Retriever {
	return &Retriever{
		engine:   NewEngine(st),
		store:    st,
		embedder: emb,
	}
}

// Retrieve returns the k documents most relevant to query.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Result, error) {
	return r.Search(ctx, query, Options{TopK: k})
}

// Search embeds query and returns up to opts.TopK results scoring at least
// opts.MinScore.
func (r *Retriever) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if r.embedder.ModelName() != r.store.Model() {
		return nil, fmt.Errorf("%w: query uses %q, store uses %q", ErrModelMismatch, r.embedder.ModelName(), r.store.Model())
	}

	log.Debug("Generating query embedding", "query", truncate(query, 50))
	queryEmbedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := r.engine.Search(queryEmbedding, opts.TopK)
	if err != nil {
		return nil, err
	}

	if opts.MinScore > 0 {
		results = slices.DeleteFunc(results, func(res Result) bool {
			return res.Score < opts.MinScore
		})
	}
	return results, nil
}

// truncate shortens a string for display to at most maxLen runes.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:max(maxLen-3, 0)]) + "..."
}
