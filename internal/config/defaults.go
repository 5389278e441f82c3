package config

import (
	"os"
	"path/filepath"
)

// Default configuration values
const (
	// Embedding defaults
	DefaultEmbeddingProvider = "ollama"
	DefaultOllamaURL         = "http://localhost:11434"
	DefaultOllamaEmbedModel  = "nomic-embed-text"
	DefaultOpenAIEmbedModel  = "text-embedding-3-small"

	// LLM defaults
	DefaultLLMProvider    = "ollama"
	DefaultOllamaLLMModel = "deepseek-r1:14b"
	DefaultOpenAILLMModel = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-haiku-20240307"

	// Retrieval defaults
	DefaultTopK            = 3
	DefaultTemperature     = 0.3 // Favour factual answers over creative ones
	DefaultMaxContextChars = 4000
	DefaultHistoryMessages = 6
	DefaultMaxTokens       = 2048

	// Data defaults
	DefaultDataPath    = "data"
	DefaultMaxFileSize = 8 << 20 // 8MB

	// Cache
	DefaultCacheFileName = "embeddings.db"
)

// DefaultChatModels returns the models offered for chat.
func DefaultChatModels() []string {
	return []string{
		"deepseek-r1:14b",
		"mistral:latest",
		"phi4:latest",
	}
}

// DefaultIgnorePatterns returns the default list of data file patterns to ignore.
func DefaultIgnorePatterns() []string {
	return []string{
		"node_modules/",
		".git/",
		"package.json",
		"package-lock.json",
		"tsconfig.json",
		"*.schema.json",
		".DS_Store",
	}
}

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/qitops"
	}
	return filepath.Join(home, ".config", "qitops")
}

// DefaultDataDir returns the default data directory path.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".local/share/qitops"
	}
	return filepath.Join(home, ".local", "share", "qitops")
}

// DefaultCachePath returns the default embedding cache file path.
func DefaultCachePath() string {
	return filepath.Join(DefaultDataDir(), DefaultCacheFileName)
}
