// Package config handles configuration loading and validation for qitops.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Config represents the complete qitops configuration.
type Config struct {
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Cache      CacheConfig      `mapstructure:"cache"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Data       DataConfig       `mapstructure:"data"`
}

// EmbeddingsConfig configures the embedding service.
type EmbeddingsConfig struct {
	Provider string            `mapstructure:"provider"`
	Ollama   OllamaEmbedConfig `mapstructure:"ollama"`
	OpenAI   OpenAIEmbedConfig `mapstructure:"openai"`
}

// OllamaEmbedConfig configures Ollama embeddings.
type OllamaEmbedConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAIEmbedConfig configures OpenAI embeddings.
type OpenAIEmbedConfig struct {
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Dimensions int    `mapstructure:"dimensions"`
}

// CacheConfig configures the on-disk cache of document embeddings.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LLMConfig configures the LLM service used for answers.
type LLMConfig struct {
	Provider  string          `mapstructure:"provider"`
	Models    []string        `mapstructure:"models"`
	Ollama    OllamaLLMConfig `mapstructure:"ollama"`
	OpenAI    OpenAILLMConfig `mapstructure:"openai"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
}

// OllamaLLMConfig configures Ollama LLM.
type OllamaLLMConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAILLMConfig configures OpenAI LLM.
type OpenAILLMConfig struct {
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// AnthropicConfig configures Anthropic LLM.
type AnthropicConfig struct {
	Model  string `mapstructure:"model"`
	APIKey string `mapstructure:"api_key"`
}

// RetrievalConfig configures retrieval and answer generation.
type RetrievalConfig struct {
	TopK            int     `mapstructure:"top_k"`
	MinScore        float64 `mapstructure:"min_score"`
	Temperature     float64 `mapstructure:"temperature"`
	MaxContextChars int     `mapstructure:"max_context_chars"`
	HistoryMessages int     `mapstructure:"history_messages"`
	MaxTokens       int     `mapstructure:"max_tokens"`
}

// DataConfig configures where QA record files are loaded from.
type DataConfig struct {
	Paths       []string `mapstructure:"paths"`
	Ignore      []string `mapstructure:"ignore"`
	MaxFileSize int      `mapstructure:"max_file_size"`
}

// Global configuration instance
var cfg *Config

// Get returns the current configuration.
func Get() *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Embeddings: EmbeddingsConfig{
			Provider: DefaultEmbeddingProvider,
			Ollama: OllamaEmbedConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaEmbedModel,
			},
			OpenAI: OpenAIEmbedConfig{
				Model: DefaultOpenAIEmbedModel,
			},
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    DefaultCachePath(),
		},
		LLM: LLMConfig{
			Provider: DefaultLLMProvider,
			Models:   DefaultChatModels(),
			Ollama: OllamaLLMConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaLLMModel,
			},
			OpenAI: OpenAILLMConfig{
				Model: DefaultOpenAILLMModel,
			},
			Anthropic: AnthropicConfig{
				Model: DefaultAnthropicModel,
			},
		},
		Retrieval: RetrievalConfig{
			TopK:            DefaultTopK,
			Temperature:     DefaultTemperature,
			MaxContextChars: DefaultMaxContextChars,
			HistoryMessages: DefaultHistoryMessages,
			MaxTokens:       DefaultMaxTokens,
		},
		Data: DataConfig{
			Paths:       []string{DefaultDataPath},
			Ignore:      DefaultIgnorePatterns(),
			MaxFileSize: DefaultMaxFileSize,
		},
	}
}

// Load reads configuration from file and environment variables.
func Load(configFile string) error {
	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(DefaultConfigDir())
		viper.AddConfigPath(".")

		// A project-local .qitopsrc.yaml wins over the global config
		if rcPath := findRCFile(); rcPath != "" {
			viper.SetConfigFile(rcPath)
		}
	}

	viper.SetEnvPrefix("QITOPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug("No config file found, using defaults")
	} else {
		log.Debug("Loaded config from", "file", viper.ConfigFileUsed())
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded

	loadAPIKeysFromEnv()

	return nil
}

// Validate checks values that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.Temperature < 0 || c.Retrieval.Temperature > 2 {
		return fmt.Errorf("retrieval.temperature must be within [0, 2], got %g", c.Retrieval.Temperature)
	}
	if c.Retrieval.MaxContextChars <= 0 {
		return fmt.Errorf("retrieval.max_context_chars must be positive, got %d", c.Retrieval.MaxContextChars)
	}
	if c.Retrieval.HistoryMessages < 0 {
		return fmt.Errorf("retrieval.history_messages cannot be negative")
	}
	return nil
}

// setDefaults sets default values in viper.
func setDefaults() {
	// Embeddings
	viper.SetDefault("embeddings.provider", DefaultEmbeddingProvider)
	viper.SetDefault("embeddings.ollama.url", DefaultOllamaURL)
	viper.SetDefault("embeddings.ollama.model", DefaultOllamaEmbedModel)
	viper.SetDefault("embeddings.openai.model", DefaultOpenAIEmbedModel)

	// Cache
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.path", DefaultCachePath())

	// LLM
	viper.SetDefault("llm.provider", DefaultLLMProvider)
	viper.SetDefault("llm.models", DefaultChatModels())
	viper.SetDefault("llm.ollama.url", DefaultOllamaURL)
	viper.SetDefault("llm.ollama.model", DefaultOllamaLLMModel)
	viper.SetDefault("llm.openai.model", DefaultOpenAILLMModel)
	viper.SetDefault("llm.anthropic.model", DefaultAnthropicModel)

	// Retrieval
	viper.SetDefault("retrieval.top_k", DefaultTopK)
	viper.SetDefault("retrieval.min_score", 0.0)
	viper.SetDefault("retrieval.temperature", DefaultTemperature)
	viper.SetDefault("retrieval.max_context_chars", DefaultMaxContextChars)
	viper.SetDefault("retrieval.history_messages", DefaultHistoryMessages)
	viper.SetDefault("retrieval.max_tokens", DefaultMaxTokens)

	// Data
	viper.SetDefault("data.paths", []string{DefaultDataPath})
	viper.SetDefault("data.ignore", DefaultIgnorePatterns())
	viper.SetDefault("data.max_file_size", DefaultMaxFileSize)
}

// findRCFile searches for .qitopsrc.yaml starting from current directory.
func findRCFile() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		rcPath := filepath.Join(dir, ".qitopsrc.yaml")
		if _, err := os.Stat(rcPath); err == nil {
			return rcPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// loadAPIKeysFromEnv loads API keys from environment variables if not already set.
func loadAPIKeysFromEnv() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.Embeddings.OpenAI.APIKey == "" {
			cfg.Embeddings.OpenAI.APIKey = key
		}
		if cfg.LLM.OpenAI.APIKey == "" {
			cfg.LLM.OpenAI.APIKey = key
		}
	}

	if cfg.LLM.Anthropic.APIKey == "" {
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			cfg.LLM.Anthropic.APIKey = key
		}
	}
}

// ConfigFilePath returns the path of the loaded config file, or empty string if none.
func ConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// ActiveModel returns the chat model of the configured LLM provider.
func (c *Config) ActiveModel() string {
	switch c.LLM.Provider {
	case "openai":
		return c.LLM.OpenAI.Model
	case "anthropic":
		return c.LLM.Anthropic.Model
	default:
		return c.LLM.Ollama.Model
	}
}
