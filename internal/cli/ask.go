package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nickcecere/qitops/internal/config"
	"github.com/nickcecere/qitops/internal/llm"
	"github.com/nickcecere/qitops/internal/search"
	"github.com/nickcecere/qitops/internal/ui"
)

var (
	askModel       string
	askTopK        int
	askTemperature float64
	askJSON        bool
)

// askCmd answers a single question.
var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question about the QA records",
	Long: `Retrieve the records most relevant to a question and ask the configured
LLM to answer from them.

Examples:
  qitops ask "which test cases cover logout?"
  qitops ask "what is the p95 of /users?" --model mistral:latest
  qitops ask "summarize auth coverage" --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askModel, "model", "", "chat model (default from config)")
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of records to ground the answer in (default from config)")
	askCmd.Flags().Float64Var(&askTemperature, "temperature", 0, "sampling temperature, 0 for greedy (default from config)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer and sources as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.orchestrator()
	if err != nil {
		return err
	}

	var spinnerOut io.Writer
	if !askJSON {
		spinnerOut = os.Stderr
	}
	if _, err := a.ingest(ctx, dataPaths(dataFlags, cfg), spinnerOut); err != nil {
		return err
	}

	var spinner *ui.Spinner
	if !askJSON {
		spinner = ui.StartSpinner(os.Stderr, "Generating answer")
	}
	opts := llm.AnswerOptions{Model: askModel, TopK: askTopK}
	if cmd.Flags().Changed("temperature") {
		opts.Temperature = llm.Temperature(askTemperature)
	}
	answer, err := orch.Answer(ctx, nil, question, opts)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return describeAnswerError(err)
	}

	out := cmd.OutOrStdout()
	if askJSON {
		return outputJSON(out, answer)
	}
	printAnswer(out, answer)
	return nil
}

// describeAnswerError tells generation failures apart from retrieval failures.
func describeAnswerError(err error) error {
	if errors.Is(err, llm.ErrGenerationFailure) {
		return fmt.Errorf("answer generation failed: %w", err)
	}
	return fmt.Errorf("retrieval failed: %w", err)
}

// printAnswer renders an answer as markdown followed by its sources.
func printAnswer(out io.Writer, answer *llm.Answer) {
	fmt.Fprintln(out, ui.AssistantLabel.Render("Answer")+" "+ui.Dim.Render("("+answer.Model+")"))
	fmt.Fprint(out, ui.RenderMarkdown(answer.Text))
	printSources(out, answer.Sources)
}

func printSources(out io.Writer, sources []search.Result) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(out, ui.Dim.Render("Sources:"))
	for i, s := range sources {
		fmt.Fprintf(out, "  [%d] %s %s %s\n", i+1, ui.FormatKind(s.Document.Kind), s.Document.Content, ui.FormatScore(s.Score))
	}
}
