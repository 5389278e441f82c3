// Package store provides the in-memory vector index of embedded QA documents.
package store

import "maps"

// Document kinds produced by the record loader.
const (
	KindTestCase        = "test_case"
	KindPerformanceTest = "performance_test"
)

// Embedding is a fixed-length vector produced by an embedding model.
type Embedding = []float32

// Document is a unit of retrievable content.
type Document struct {
	Kind     string         `json:"kind"`
	Content  string         `json:"content"`  // Exact text that was embedded
	Metadata map[string]any `json:"metadata"` // Scalar values carried through untouched
}

// Clone returns a copy of d that shares no mutable state with it.
func (d Document) Clone() Document {
	return Document{
		Kind:     d.Kind,
		Content:  d.Content,
		Metadata: maps.Clone(d.Metadata),
	}
}
