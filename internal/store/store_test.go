package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/qitops/internal/embeddings"
	"github.com/nickcecere/qitops/internal/embeddings/embedtest"
)

func testDocs(n int) []Document {
	docs := make([]Document, n)
	for i := range docs {
		docs[i] = Document{
			Kind:     KindTestCase,
			Content:  fmt.Sprintf("Test case TC%d: login test", i+1),
			Metadata: map[string]any{"ticket": fmt.Sprintf("QA-%d", i+1)},
		}
	}
	return docs
}

func TestNewStoreIsEmpty(t *testing.T) {
	s := New(embedtest.NewLexical())

	assert.Equal(t, 0, s.Size())
	assert.Equal(t, 0, s.Dimensions())
	assert.Equal(t, "lexical-test", s.Model())

	_, _, err := s.EntryAt(0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestAddDocuments(t *testing.T) {
	emb := embedtest.NewLexical()
	s := New(emb)
	docs := testDocs(3)

	require.NoError(t, s.AddDocuments(context.Background(), docs))

	assert.Equal(t, 3, s.Size())
	assert.Equal(t, len(emb.Vocabulary), s.Dimensions())

	// Content is embedded byte for byte
	assert.Equal(t, []string{docs[0].Content, docs[1].Content, docs[2].Content}, emb.Texts())

	for i, want := range docs {
		embedding, doc, err := s.EntryAt(i)
		require.NoError(t, err)
		assert.Equal(t, want, doc)
		assert.Equal(t, embedtest.Vector(emb.Vocabulary, want.Content, s.Dimensions()), embedding)
	}
}

func TestAddDocumentsEmptyInput(t *testing.T) {
	emb := embedtest.NewLexical()
	s := New(emb)

	require.NoError(t, s.AddDocuments(context.Background(), nil))
	assert.Equal(t, 0, s.Size())
	assert.Equal(t, 0, emb.Calls())
}

func TestAddDocumentsPartialCommit(t *testing.T) {
	s := New(embedtest.NewLexical().FailOn(3))
	docs := testDocs(5)

	err := s.AddDocuments(context.Background(), docs)
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrEmbeddingFailure))
	assert.True(t, errors.Is(err, embedtest.ErrInjected))

	var embErr *EmbeddingError
	require.True(t, errors.As(err, &embErr))
	assert.Equal(t, 2, embErr.Index)
	assert.Equal(t, docs[2], embErr.Document)
	assert.Equal(t, docs[2:], embErr.Remaining)

	var provErr *embeddings.ProviderError
	assert.True(t, errors.As(err, &provErr))

	assert.Equal(t, 2, s.Size())
	snap := s.Snapshot()
	assert.Len(t, snap.Embeddings, 2)
	assert.Len(t, snap.Documents, 2)

	// Retrying only the remaining documents completes the corpus in order
	require.NoError(t, s.AddDocuments(context.Background(), embErr.Remaining))
	assert.Equal(t, 5, s.Size())
	for i, want := range docs {
		_, doc, err := s.EntryAt(i)
		require.NoError(t, err)
		assert.Equal(t, want.Content, doc.Content)
	}
}

func TestAddDocumentsFirstFailureLeavesStoreEmpty(t *testing.T) {
	s := New(embedtest.NewLexical().FailOn(1))

	err := s.AddDocuments(context.Background(), testDocs(2))
	require.Error(t, err)

	var embErr *EmbeddingError
	require.True(t, errors.As(err, &embErr))
	assert.Equal(t, 0, embErr.Index)
	assert.Len(t, embErr.Remaining, 2)
	assert.Equal(t, 0, s.Size())
	assert.Equal(t, 0, s.Dimensions())
}

func TestAddDocumentsRejectsDimensionChange(t *testing.T) {
	emb := embedtest.NewLexical().WithDimensions(8)
	s := New(emb)

	require.NoError(t, s.AddDocuments(context.Background(), testDocs(1)))
	assert.Equal(t, 8, s.Dimensions())

	emb.WithDimensions(4)
	err := s.AddDocuments(context.Background(), testDocs(2))
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.True(t, errors.Is(err, ErrEmbeddingFailure))

	var dimErr *DimensionError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 8, dimErr.Want)
	assert.Equal(t, 4, dimErr.Got)

	assert.Equal(t, 1, s.Size())
	assert.Equal(t, 8, s.Dimensions())
}

func TestAddDocumentsCancelledContext(t *testing.T) {
	s := New(embedtest.NewLexical())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.AddDocuments(ctx, testDocs(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrEmbeddingFailure)
	assert.Equal(t, 0, s.Size())
}

func TestEntryAtBounds(t *testing.T) {
	s := New(embedtest.NewLexical())
	require.NoError(t, s.AddDocuments(context.Background(), testDocs(2)))

	for _, i := range []int{-1, 2, 100} {
		_, _, err := s.EntryAt(i)
		assert.ErrorIs(t, err, ErrIndexOutOfRange, "index %d", i)
	}
}

func TestEntryAtReturnsCopies(t *testing.T) {
	s := New(embedtest.NewLexical())
	require.NoError(t, s.AddDocuments(context.Background(), testDocs(1)))

	embedding, doc, err := s.EntryAt(0)
	require.NoError(t, err)

	embedding[0] = 42
	doc.Metadata["ticket"] = "changed"
	doc.Content = "changed"

	embedding2, doc2, err := s.EntryAt(0)
	require.NoError(t, err)
	assert.NotEqual(t, float32(42), embedding2[0])
	assert.Equal(t, "QA-1", doc2.Metadata["ticket"])
	assert.Equal(t, "Test case TC1: login test", doc2.Content)
}

func TestAddDocumentsCopiesInput(t *testing.T) {
	s := New(embedtest.NewLexical())
	docs := testDocs(1)
	require.NoError(t, s.AddDocuments(context.Background(), docs))

	docs[0].Metadata["ticket"] = "changed"

	_, doc, err := s.EntryAt(0)
	require.NoError(t, err)
	assert.Equal(t, "QA-1", doc.Metadata["ticket"])
}

func TestConcurrentAddAndRead(t *testing.T) {
	s := New(embedtest.NewLexical())
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				assert.NoError(t, s.AddDocuments(ctx, testDocs(3)))
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			snap := s.Snapshot()
			if !assert.Equal(t, len(snap.Embeddings), len(snap.Documents)) {
				return
			}
			for i := range snap.Documents {
				assert.Len(t, snap.Embeddings[i], len(embedtest.DefaultVocabulary))
			}
			if len(snap.Documents) == 120 {
				return
			}
		}
	}()

	wg.Wait()
	<-done
	assert.Equal(t, 120, s.Size())
}
