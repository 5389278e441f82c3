package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/qitops/internal/config"
)

// TestGetModelDimensions tests known model dimension lookups.
func TestGetModelDimensions(t *testing.T) {
	tests := []struct {
		model    string
		expected int
	}{
		{"nomic-embed-text", 768},
		{"mxbai-embed-large", 1024},
		{"all-minilm", 384},
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"unknown-model", 0},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetModelDimensions(tt.model))
		})
	}
}

// TestNewOllamaService tests Ollama service creation.
func TestNewOllamaService(t *testing.T) {
	t.Run("with default URL", func(t *testing.T) {
		svc, err := NewOllamaService("", "nomic-embed-text")
		require.NoError(t, err)

		assert.Equal(t, "http://localhost:11434", svc.baseURL)
		assert.Equal(t, 768, svc.Dimensions())
		assert.Equal(t, ProviderOllama, svc.Provider())
		assert.Equal(t, "nomic-embed-text", svc.ModelName())
	})

	t.Run("with custom URL", func(t *testing.T) {
		svc, err := NewOllamaService("http://custom:8080/", "mxbai-embed-large")
		require.NoError(t, err)

		assert.Equal(t, "http://custom:8080", svc.baseURL) // trailing slash removed
		assert.Equal(t, 1024, svc.Dimensions())
	})

	t.Run("requires model", func(t *testing.T) {
		_, err := NewOllamaService("", "")
		assert.Error(t, err)
	})
}

// TestNewOpenAIService tests OpenAI service creation.
func TestNewOpenAIService(t *testing.T) {
	t.Run("requires API key", func(t *testing.T) {
		_, err := NewOpenAIService("", "text-embedding-3-small", "", 0)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "API key is required")
	})

	t.Run("with known model dimensions", func(t *testing.T) {
		svc, err := NewOpenAIService("sk-test", "text-embedding-3-small", "", 0)
		require.NoError(t, err)

		assert.Equal(t, 1536, svc.Dimensions())
		assert.Equal(t, 0, svc.requested)
		assert.Equal(t, ProviderOpenAI, svc.Provider())
	})

	t.Run("with custom dimensions", func(t *testing.T) {
		svc, err := NewOpenAIService("sk-test", "text-embedding-3-large", "", 512)
		require.NoError(t, err)

		assert.Equal(t, 512, svc.Dimensions())
		assert.Equal(t, 512, svc.requested)
	})
}

// TestOllamaTaskPrefixes tests task prefix application.
func TestOllamaTaskPrefixes(t *testing.T) {
	t.Run("nomic-embed-text prefixes", func(t *testing.T) {
		svc, _ := NewOllamaService("", "nomic-embed-text")

		assert.Equal(t, "search_document: Test case TC1: login succeeds", svc.applyPrefix("Test case TC1: login succeeds", false))
		assert.Equal(t, "search_query: login test", svc.applyPrefix("login test", true))
	})

	t.Run("unknown model has no prefix", func(t *testing.T) {
		svc, _ := NewOllamaService("", "unknown-model")

		assert.Equal(t, "test", svc.applyPrefix("test", false))
		assert.Equal(t, "test", svc.applyPrefix("test", true))
	})
}

// mockOllamaServer creates a test server that simulates Ollama's embed API.
func mockOllamaServer(t *testing.T, dims int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ollamaEmbedRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)

		embeddings := make([][]float32, len(req.Input))
		for i := range req.Input {
			embedding := make([]float32, dims)
			for j := range embedding {
				embedding[j] = float32(i+1) * 0.1
			}
			embeddings[i] = embedding
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: embeddings})
	}))
}

// TestOllamaEmbed tests the Ollama embedding methods with a mock server.
func TestOllamaEmbed(t *testing.T) {
	server := mockOllamaServer(t, 768)
	defer server.Close()

	svc, err := NewOllamaService(server.URL, "nomic-embed-text")
	require.NoError(t, err)

	embedding, err := svc.Embed(context.Background(), "Perf test on /users (GET)")
	require.NoError(t, err)
	assert.Len(t, embedding, 768)
	assert.Equal(t, float32(0.1), embedding[0])

	embedding, err = svc.EmbedQuery(context.Background(), "slow endpoints")
	require.NoError(t, err)
	assert.Len(t, embedding, 768)
}

// TestOllamaErrorHandling tests error cases.
func TestOllamaErrorHandling(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("model not found"))
		}))
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "nomic-embed-text")
		_, err := svc.Embed(context.Background(), "test")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 500")
		assert.Contains(t, err.Error(), "model not found")

		var perr *ProviderError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, ProviderOllama, perr.Provider)
		assert.Equal(t, "nomic-embed-text", perr.Model)
	})

	t.Run("empty embedding list", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(ollamaEmbedResponse{})
		}))
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "nomic-embed-text")
		_, err := svc.Embed(context.Background(), "test")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "no embedding returned")
	})

	t.Run("invalid JSON response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "nomic-embed-text")
		_, err := svc.Embed(context.Background(), "test")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode response")
	})

	t.Run("cancelled context", func(t *testing.T) {
		server := mockOllamaServer(t, 8)
		defer server.Close()

		svc, _ := NewOllamaService(server.URL, "nomic-embed-text")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := svc.Embed(ctx, "test")
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

// TestOllamaDimensionUpdate tests that dimensions are updated from response.
func TestOllamaDimensionUpdate(t *testing.T) {
	server := mockOllamaServer(t, 512)
	defer server.Close()

	svc, _ := NewOllamaService(server.URL, "nomic-embed-text")
	assert.Equal(t, 768, svc.Dimensions())

	_, err := svc.Embed(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, 512, svc.Dimensions())
}

// TestNewService tests the factory function.
func TestNewService(t *testing.T) {
	t.Run("creates Ollama service", func(t *testing.T) {
		cfg := config.DefaultConfig()

		svc, err := NewService(cfg)
		require.NoError(t, err)
		assert.Equal(t, ProviderOllama, svc.Provider())
		assert.Equal(t, config.DefaultOllamaEmbedModel, svc.ModelName())
	})

	t.Run("creates OpenAI service", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Embeddings.Provider = "openai"
		cfg.Embeddings.OpenAI.APIKey = "sk-test"

		svc, err := NewService(cfg)
		require.NoError(t, err)
		assert.Equal(t, ProviderOpenAI, svc.Provider())
		assert.Equal(t, config.DefaultOpenAIEmbedModel, svc.ModelName())
	})

	t.Run("returns error for unsupported provider", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Embeddings.Provider = "unsupported"

		_, err := NewService(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported embedding provider")
	})
}

// TestNewCachedServiceFromConfig tests cache wiring from configuration.
func TestNewCachedServiceFromConfig(t *testing.T) {
	t.Run("cache disabled", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Cache.Enabled = false

		svc, closeFn, err := NewCachedServiceFromConfig(cfg)
		require.NoError(t, err)
		defer closeFn()

		_, isCached := svc.(*CachedService)
		assert.False(t, isCached)
	})

	t.Run("cache enabled", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Cache.Path = filepath.Join(t.TempDir(), "cache", "embeddings.db")

		svc, closeFn, err := NewCachedServiceFromConfig(cfg)
		require.NoError(t, err)
		defer closeFn()

		_, isCached := svc.(*CachedService)
		assert.True(t, isCached)
	})
}
