package cli

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/qitops/internal/config"
	"github.com/nickcecere/qitops/internal/mcp"
	"github.com/nickcecere/qitops/internal/ui"
)

var mcpNoWatch bool

// mcpCmd represents the MCP server command.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI agent integration",
	Long: `Start a Model Context Protocol (MCP) server for integration with AI agents.

The server communicates via stdin/stdout using JSON-RPC 2.0 and provides tools for:
  - qa_search: rank QA records against a query
  - qa_ask:    answer a question grounded in the records (keeps session history)
  - qa_ingest: load more record files

The configured data paths are loaded on start. By default a background watcher
loads record files that change while the server runs. Use --no-watch to disable it.

This command is typically started by an MCP client, see 'qitops install'.`,
	Args: cobra.NoArgs,
	RunE: runMcpCmd,
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpNoWatch, "no-watch", false, "disable background file watching")
}

func runMcpCmd(cmd *cobra.Command, args []string) error {
	// stdout carries the protocol
	ui.SetLogOutput(os.Stderr)

	cfg := config.Get()
	paths := dataPaths(dataFlags, cfg)

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

	if _, err := a.ingest(ctx, paths, nil); err != nil {
		return err
	}
	log.Info("Loaded QA records", "documents", a.store.Size())

	if !mcpNoWatch {
		go a.watch(ctx, paths)
	}

	server := mcp.NewServer(a.retriever, orch, a.indexer, cfg)
	return server.Run(ctx)
}
