// Package embedtest provides deterministic embedding services for tests.
package embedtest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode"

	"github.com/nickcecere/qitops/internal/embeddings"
)

// DefaultVocabulary is the term list used by NewLexical when none is given.
var DefaultVocabulary = []string{"login", "logout", "test", "case", "perf", "users", "timeout", "auth"}

// ErrInjected is returned by Lexical when a call is configured to fail.
var ErrInjected = errors.New("injected embedding failure")

// Lexical maps text to a bag-of-words vector over a fixed vocabulary: the
// i-th component counts occurrences of the i-th term. Identical text always
// yields the identical vector.
type Lexical struct {
	Model      string
	Vocabulary []string

	mu     sync.Mutex
	calls  int
	failOn map[int]bool
	texts  []string
	dims   int
}

var _ embeddings.Service = (*Lexical)(nil)

// NewLexical returns a lexical embedder over vocab (DefaultVocabulary if empty).
func NewLexical(vocab ...string) *Lexical {
	if len(vocab) == 0 {
		vocab = DefaultVocabulary
	}
	return &Lexical{Model: "lexical-test", Vocabulary: vocab}
}

// FailOn makes the n-th call (1-based, counting Embed and EmbedQuery) fail.
func (l *Lexical) FailOn(calls ...int) *Lexical {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failOn == nil {
		l.failOn = make(map[int]bool)
	}
	for _, n := range calls {
		l.failOn[n] = true
	}
	return l
}

// WithDimensions pads or truncates every vector to dims components.
func (l *Lexical) WithDimensions(dims int) *Lexical {
	l.dims = dims
	return l
}

// Embed embeds document text.
func (l *Lexical) Embed(ctx context.Context, text string) ([]float32, error) {
	return l.embed(ctx, text)
}

// EmbedQuery embeds query text.
func (l *Lexical) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return l.embed(ctx, text)
}

// Dimensions returns the vector size.
func (l *Lexical) Dimensions() int {
	if l.dims > 0 {
		return l.dims
	}
	return len(l.Vocabulary)
}

// Provider returns the provider name.
func (l *Lexical) Provider() embeddings.Provider {
	return embeddings.Provider("test")
}

// ModelName returns the model name.
func (l *Lexical) ModelName() string {
	return l.Model
}

// Calls returns how many embedding calls were made.
func (l *Lexical) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// Texts returns every text passed in, in call order.
func (l *Lexical) Texts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.texts...)
}

func (l *Lexical) embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.calls++
	l.texts = append(l.texts, text)
	fail := l.failOn[l.calls]
	l.mu.Unlock()

	if fail {
		return nil, &embeddings.ProviderError{Provider: l.Provider(), Model: l.Model, Err: ErrInjected}
	}

	return Vector(l.Vocabulary, text, l.Dimensions()), nil
}

// Vector computes the lexical vector of text over vocab with dims components.
func Vector(vocab []string, text string, dims int) []float32 {
	vec := make([]float32, dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		for i, term := range vocab {
			if i < dims && w == term {
				vec[i]++
			}
		}
	}
	return vec
}
