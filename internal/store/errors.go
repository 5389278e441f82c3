package store

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when a vector's length disagrees with
	// the store's fixed dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrIndexOutOfRange is returned by EntryAt for positions outside [0, Size).
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrEmbeddingFailure marks an ingestion that stopped on a failed embedding.
	ErrEmbeddingFailure = errors.New("embedding failure")
)

// EmbeddingError reports the document that stopped an AddDocuments call.
// Entries appended before it stay committed; Remaining holds the failing
// document and everything after it, so a retry can be scoped to them.
type EmbeddingError struct {
	Index     int        // Position of the failing document in the input
	Document  Document   // The failing document
	Remaining []Document // Documents not ingested, starting with the failing one
	Err       error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("failed to embed document %d (%d not ingested): %v", e.Index, len(e.Remaining), e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// Is reports ErrEmbeddingFailure for every EmbeddingError.
func (e *EmbeddingError) Is(target error) bool {
	return target == ErrEmbeddingFailure
}

// DimensionError carries the lengths involved in a dimension mismatch.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%v: store has %d dimensions, got %d", ErrDimensionMismatch, e.Want, e.Got)
}

func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}
