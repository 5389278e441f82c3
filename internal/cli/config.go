package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nickcecere/qitops/internal/config"
	"github.com/nickcecere/qitops/internal/ui"
)

var configShowPath bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long: `Display current configuration settings and config file locations.

Examples:
  # Show current configuration
  qitops config

  # Show config file paths
  qitops config --path`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowPath, "path", false, "show config file paths")
}

func runConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg := config.Get()

	if configShowPath {
		fmt.Fprintln(out, ui.SectionTitle.Render("Configuration Paths"))
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Global config:   %s\n", config.GlobalConfigPath())
		fmt.Fprintf(out, "Local config:    .qitopsrc.yaml (searched from cwd upward)\n")
		fmt.Fprintf(out, "Active config:   %s\n", config.ConfigFilePath())
		fmt.Fprintf(out, "Embedding cache: %s\n", cfg.Cache.Path)
		return nil
	}

	fmt.Fprintln(out, ui.SectionTitle.Render("Current Configuration"))
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("Embeddings:"))
	fmt.Fprintf(out, "  Provider: %s\n", cfg.Embeddings.Provider)
	fmt.Fprintf(out, "  Ollama URL: %s\n", cfg.Embeddings.Ollama.URL)
	fmt.Fprintf(out, "  Ollama Model: %s\n", cfg.Embeddings.Ollama.Model)
	fmt.Fprintf(out, "  OpenAI Model: %s\n", cfg.Embeddings.OpenAI.Model)
	if cfg.Embeddings.OpenAI.BaseURL != "" {
		fmt.Fprintf(out, "  OpenAI Base URL: %s\n", cfg.Embeddings.OpenAI.BaseURL)
	}
	fmt.Fprintf(out, "  Cache: %t\n", cfg.Cache.Enabled)
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("LLM:"))
	fmt.Fprintf(out, "  Provider: %s\n", cfg.LLM.Provider)
	fmt.Fprintf(out, "  Active Model: %s\n", cfg.ActiveModel())
	fmt.Fprintf(out, "  Chat Models: %s\n", strings.Join(cfg.LLM.Models, ", "))
	fmt.Fprintf(out, "  OpenAI API Key: %s\n", keyStatus(cfg.LLM.OpenAI.APIKey))
	fmt.Fprintf(out, "  Anthropic API Key: %s\n", keyStatus(cfg.LLM.Anthropic.APIKey))
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("Retrieval:"))
	fmt.Fprintf(out, "  Top K: %d\n", cfg.Retrieval.TopK)
	fmt.Fprintf(out, "  Min Score: %g\n", cfg.Retrieval.MinScore)
	fmt.Fprintf(out, "  Temperature: %g\n", cfg.Retrieval.Temperature)
	fmt.Fprintf(out, "  Max Context Chars: %d\n", cfg.Retrieval.MaxContextChars)
	fmt.Fprintf(out, "  History Messages: %d\n", cfg.Retrieval.HistoryMessages)
	fmt.Fprintf(out, "  Max Tokens: %d\n", cfg.Retrieval.MaxTokens)
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("Data:"))
	fmt.Fprintf(out, "  Paths: %s\n", strings.Join(cfg.Data.Paths, ", "))
	fmt.Fprintf(out, "  Max File Size: %s\n", formatBytes(int64(cfg.Data.MaxFileSize)))
	fmt.Fprintf(out, "  Ignore Patterns: %d configured\n", len(cfg.Data.Ignore))

	return nil
}

// keyStatus reports whether a secret is set without printing it.
func keyStatus(key string) string {
	if key == "" {
		return ui.Dim.Render("not set")
	}
	return ui.Success.Render("set")
}
