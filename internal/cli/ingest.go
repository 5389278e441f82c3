package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/qitops/internal/config"
	"github.com/nickcecere/qitops/internal/embeddings"
	"github.com/nickcecere/qitops/internal/indexer"
	"github.com/nickcecere/qitops/internal/records"
	"github.com/nickcecere/qitops/internal/ui"
)

var ingestDryRun bool

// ingestCmd loads record files and reports what was embedded.
var ingestCmd = &cobra.Command{
	Use:   "ingest [paths...]",
	Short: "Load QA record files and report the result",
	Long: `Load test case and performance result files, embed every record and
report what was loaded. The index lives in memory, so this is mostly useful to
validate record files and to warm the embedding cache.

Examples:
  # Load the configured data paths
  qitops ingest

  # Load specific files or directories
  qitops ingest ./exports/test_cases.json ./perf

  # Preview which files would be loaded
  qitops ingest --dry-run`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestDryRun, "dry-run", "n", false, "list record files without embedding them")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	paths := dataPaths(append(args, dataFlags...), cfg)
	out := cmd.OutOrStdout()

	if ingestDryRun {
		return runDryRun(out, paths, cfg)
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintln(out, ui.Header.Render("Loading QA records"))
	fmt.Fprintf(out, "Provider: %s (%s)\n\n", cfg.Embeddings.Provider, a.emb.ModelName())

	start := time.Now()
	lastUpdate := time.Now()

	report, err := a.indexer.Ingest(ctx, paths, indexer.Options{
		OnProgress: func(p indexer.Progress) {
			// Throttle updates to every 100ms
			if time.Since(lastUpdate) < 100*time.Millisecond {
				return
			}
			lastUpdate = time.Now()
			fmt.Fprintf(out, "\r\033[K%d/%d files | %d documents | %s",
				p.ProcessedFiles, p.TotalFiles, p.Documents, truncatePath(p.CurrentFile, 40))
		},
	})
	fmt.Fprint(out, "\r\033[K")
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(out, ui.Warning.Render("Ingestion cancelled"))
			return nil
		}
		return err
	}

	printReport(out, report, a.store.Dimensions(), time.Since(start))
	if cached, ok := a.emb.(*embeddings.CachedService); ok {
		hits, misses := cached.Stats()
		fmt.Fprintf(out, "  %s\n", ui.Dim.Render(fmt.Sprintf("Embedding cache: %d hits, %d misses", hits, misses)))
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("%d record files failed to load", len(report.Failures))
	}
	return nil
}

func printReport(out io.Writer, report *indexer.Report, dims int, took time.Duration) {
	if len(report.Failures) == 0 {
		fmt.Fprintln(out, ui.Success.Render("Ingestion complete!"))
	} else {
		fmt.Fprintln(out, ui.Warning.Render("Ingestion finished with errors"))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Files:      %d\n", report.Files)
	fmt.Fprintf(out, "  Documents:  %d\n", report.Documents)
	fmt.Fprintf(out, "  Unchanged:  %d\n", report.Unchanged)
	fmt.Fprintf(out, "  Skipped:    %d\n", report.Skipped)
	fmt.Fprintf(out, "  Dimensions: %d\n", dims)
	fmt.Fprintf(out, "  Duration:   %s\n", took.Round(time.Millisecond))

	for _, f := range report.Failures {
		fmt.Fprintf(out, "\n%s\n", ui.FormatError(fmt.Errorf("%s: %w", f.Path, f.Err)))
		if len(f.Remaining) > 0 {
			fmt.Fprintf(out, "  %s\n", ui.Dim.Render(fmt.Sprintf("%d documents not loaded", len(f.Remaining))))
		}
	}
}

// runDryRun shows what would be loaded without embedding anything.
func runDryRun(out io.Writer, paths []string, cfg *config.Config) error {
	fmt.Fprintln(out, ui.Header.Render("Dry Run - Preview"))
	fmt.Fprintln(out)

	byKind := make(map[records.Kind]int)
	var files, docs int

	for _, path := range paths {
		walker, err := records.NewWalker(records.WalkOptions{
			Root:           path,
			MaxFileSize:    int64(cfg.Data.MaxFileSize),
			IgnorePatterns: cfg.Data.Ignore,
		})
		if err != nil {
			log.Warn("Skipping data path", "path", path, "error", err)
			continue
		}

		err = walker.Walk(func(fi records.FileInfo) error {
			file, err := records.Load(fi.Path)
			if err != nil {
				fmt.Fprintf(out, "  %s %s\n", fi.RelPath, ui.Error.Render("invalid"))
				return nil
			}
			files++
			docs += len(file.Documents)
			byKind[file.Kind]++
			fmt.Fprintf(out, "  %s (%s, %d documents, %s)\n", fi.RelPath, file.Kind, len(file.Documents), formatBytes(fi.Size))
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", path, err)
		}
	}

	fmt.Fprintln(out)
	for _, kind := range []records.Kind{records.KindTestCases, records.KindPerformance, records.KindUnknown} {
		if byKind[kind] > 0 {
			fmt.Fprintf(out, "  %-13s %d files\n", string(kind)+":", byKind[kind])
		}
	}
	fmt.Fprintf(out, "Total: %d files, %d documents\n", files, docs)
	return nil
}

// truncatePath shortens a path for display.
func truncatePath(path string, maxLen int) string {
	runes := []rune(path)
	if len(runes) <= maxLen {
		return path
	}
	return "..." + string(runes[len(runes)-max(maxLen-3, 0):])
}

// formatBytes formats bytes as human-readable string.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
