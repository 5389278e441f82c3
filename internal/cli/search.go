package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/qitops/internal/config"
	"github.com/nickcecere/qitops/internal/search"
	"github.com/nickcecere/qitops/internal/ui"
)

var (
	searchLimit    int
	searchMinScore float64
	searchContent  bool
	searchJSON     bool
)

// searchCmd ranks records against a query without calling an LLM.
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find the QA records most similar to a query",
	Long: `Rank loaded QA records by cosine similarity to a natural language query.

Examples:
  # Basic search
  qitops search "login timeout"

  # Show record metadata
  qitops search "slow endpoints" -c

  # Limit results and filter weak matches
  qitops search "checkout" -m 5 --min-score 0.4

  # Machine-readable output
  qitops search "auth" --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSearchCmd,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "m", search.DefaultOptions().TopK, "maximum number of results")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", 0, "minimum similarity score (-1 to 1, default from config)")
	searchCmd.Flags().BoolVarP(&searchContent, "content", "c", false, "show record metadata")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
}

func runSearchCmd(cmd *cobra.Command, args []string) error {
	query := args[0]
	cfg := config.Get()

	opts := search.Options{TopK: searchLimit, MinScore: cfg.Retrieval.MinScore}
	if cmd.Flags().Changed("min-score") {
		opts.MinScore = searchMinScore
	}

	log.Debug("Starting search", "query", query, "limit", opts.TopK, "min_score", opts.MinScore)

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	spinnerOut := io.Writer(os.Stderr)
	if searchJSON {
		spinnerOut = nil
	}
	if _, err := a.ingest(ctx, dataPaths(dataFlags, cfg), spinnerOut); err != nil {
		return err
	}

	results, err := a.retriever.Search(ctx, query, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if searchJSON {
		return outputJSON(out, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}

	displayResults(out, results, searchContent)
	return nil
}

// displayResults formats and displays ranked records.
func displayResults(out io.Writer, results []search.Result, showMetadata bool) {
	fmt.Fprintf(out, "Found %d results:\n\n", len(results))

	for i, r := range results {
		fmt.Fprintf(out, "%s %s %s\n",
			ui.Highlight.Render(fmt.Sprintf("[%d]", i+1)),
			ui.FormatKind(r.Document.Kind),
			ui.FormatScore(r.Score),
		)
		fmt.Fprintln(out, ui.ResultContent.Render(r.Document.Content))

		if showMetadata && len(r.Document.Metadata) > 0 {
			if highlighted, err := ui.HighlightJSON(r.Document.Metadata); err == nil {
				fmt.Fprintln(out, ui.ResultContent.Render(highlighted))
			}
		}
		fmt.Fprintln(out)
	}
}

// outputJSON writes results as a JSON array.
func outputJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
