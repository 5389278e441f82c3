// Package embeddings provides text embedding services for QA record retrieval.
package embeddings

import (
	"context"
	"fmt"

	"github.com/nickcecere/qitops/internal/config"
)

// Provider represents an embedding provider type.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

// Service defines the interface for embedding services.
//
// One Service embeds both the indexed documents and the queries run against
// them; the two must come from the same model.
type Service interface {
	// Embed generates an embedding for document text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedQuery generates an embedding for a query (may use different task prefix).
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding dimensions for this model.
	Dimensions() int

	// Provider returns the provider name.
	Provider() Provider

	// ModelName returns the model name.
	ModelName() string
}

// SizeRequester is implemented by services that ask the provider for a
// specific vector size. The same model yields vectors of a different length
// for each requested size. Zero means the model's native size.
type SizeRequester interface {
	RequestedDimensions() int
}

// requestedDimensions returns the size svc asks for, or 0.
func requestedDimensions(svc Service) int {
	if r, ok := svc.(SizeRequester); ok {
		return r.RequestedDimensions()
	}
	return 0
}

// ProviderError reports a failed call to an embedding provider.
type ProviderError struct {
	Provider Provider
	Model    string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s embedding (%s): %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Known model dimensions
var modelDimensions = map[string]int{
	// Ollama models
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,

	// OpenAI models
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// GetModelDimensions returns the known dimensions for a model, or 0 if unknown.
func GetModelDimensions(model string) int {
	return modelDimensions[model]
}

// NewService creates an embedding service based on the configuration.
func NewService(cfg *config.Config) (Service, error) {
	switch cfg.Embeddings.Provider {
	case "ollama":
		return NewOllamaService(
			cfg.Embeddings.Ollama.URL,
			cfg.Embeddings.Ollama.Model,
		)
	case "openai":
		return NewOpenAIService(
			cfg.Embeddings.OpenAI.APIKey,
			cfg.Embeddings.OpenAI.Model,
			cfg.Embeddings.OpenAI.BaseURL,
			cfg.Embeddings.OpenAI.Dimensions,
		)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embeddings.Provider)
	}
}

// NewCachedServiceFromConfig wraps the configured service with the on-disk
// document cache when caching is enabled. The returned close func is never nil.
func NewCachedServiceFromConfig(cfg *config.Config) (Service, func() error, error) {
	svc, err := NewService(cfg)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Cache.Enabled || cfg.Cache.Path == "" {
		return svc, func() error { return nil }, nil
	}

	cached, err := NewCachedService(svc, cfg.Cache.Path)
	if err != nil {
		return nil, nil, err
	}
	return cached, cached.Close, nil
}
