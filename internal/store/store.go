package store

import (
	"context"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/qitops/internal/embeddings"
)

// Store holds embedded documents in insertion order.
//
// Embeddings and documents live in two index-aligned slices that only grow.
// A store is bound to the embedding service it was created with; every
// vector it holds comes from that model.
type Store struct {
	emb embeddings.Service

	mu         sync.RWMutex
	embeddings []Embedding
	documents  []Document
	dimensions int
}

// New creates an empty store that embeds documents with emb.
func New(emb embeddings.Service) *Store {
	return &Store{emb: emb}
}

// AddDocuments embeds each document in input order and appends it.
//
// Ingestion stops at the first failure. Documents appended before it stay
// in the store and the returned *EmbeddingError lists the rest.
func (s *Store) AddDocuments(ctx context.Context, docs []Document) error {
	for i, doc := range docs {
		embedding, err := s.emb.Embed(ctx, doc.Content)
		if err == nil {
			err = s.append(embedding, doc)
		}
		if err != nil {
			remaining := make([]Document, 0, len(docs)-i)
			for _, d := range docs[i:] {
				remaining = append(remaining, d.Clone())
			}
			return &EmbeddingError{
				Index:     i,
				Document:  doc.Clone(),
				Remaining: remaining,
				Err:       err,
			}
		}
	}

	log.Debug("Added documents", "count", len(docs), "size", s.Size())
	return nil
}

// append commits one (embedding, document) pair.
func (s *Store) append(embedding Embedding, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimensions == 0 {
		s.dimensions = len(embedding)
	} else if len(embedding) != s.dimensions {
		return &DimensionError{Want: s.dimensions, Got: len(embedding)}
	}

	s.embeddings = append(s.embeddings, slices.Clone(embedding))
	s.documents = append(s.documents, doc.Clone())
	return nil
}

// Size returns the number of indexed entries.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}

// EntryAt returns copies of the embedding and document at position i.
func (s *Store) EntryAt(i int) (Embedding, Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i < 0 || i >= len(s.documents) {
		return nil, Document{}, ErrIndexOutOfRange
	}
	return slices.Clone(s.embeddings[i]), s.documents[i].Clone(), nil
}

// Dimensions returns the fixed vector length, or 0 while the store is empty.
func (s *Store) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimensions
}

// Model returns the name of the embedding model the store was built with.
func (s *Store) Model() string {
	return s.emb.ModelName()
}

// Snapshot returns a read-only view of the committed entries.
//
// Entries are never rewritten and appends only write past the view's
// length, so the view stays valid and consistent while ingestion continues.
// Callers must not modify the returned values.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.documents)
	return Snapshot{
		Embeddings: s.embeddings[:n:n],
		Documents:  s.documents[:n:n],
		Dimensions: s.dimensions,
	}
}

// Snapshot is a consistent prefix of a store's entries.
type Snapshot struct {
	Embeddings []Embedding
	Documents  []Document
	Dimensions int
}
