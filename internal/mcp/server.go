package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/qitops/internal/config"
	"github.com/nickcecere/qitops/internal/indexer"
	"github.com/nickcecere/qitops/internal/llm"
	"github.com/nickcecere/qitops/internal/search"
)

const (
	// MCPVersion is the protocol version we support.
	MCPVersion = "2024-11-05"

	// ServerName is the name of this MCP server.
	ServerName = "qitops"
)

// ServerVersion is reported in the initialize response.
var ServerVersion = "dev"

// Searcher ranks stored documents against query text.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// Answerer produces grounded answers.
type Answerer interface {
	Answer(ctx context.Context, conv *llm.Conversation, query string, opts llm.AnswerOptions) (*llm.Answer, error)
}

// Ingester loads record files into the store.
type Ingester interface {
	Ingest(ctx context.Context, paths []string, opts indexer.Options) (*indexer.Report, error)
}

// Server is the MCP server for qitops.
//
// A server keeps one conversation for the lifetime of the session so
// consecutive qa_ask calls share history.
type Server struct {
	searcher Searcher
	answerer Answerer
	ingester Ingester
	cfg      *config.Config
	conv     *llm.Conversation

	reader *bufio.Reader
	writer io.Writer
	mu     sync.Mutex // guards writer

	initialized bool
}

// Option configures the server.
type Option func(*Server)

// WithIO replaces stdin and stdout.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(s *Server) {
		s.reader = bufio.NewReader(r)
		s.writer = w
	}
}

// NewServer creates a new MCP server.
func NewServer(searcher Searcher, answerer Answerer, ingester Ingester, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		searcher: searcher,
		answerer: answerer,
		ingester: ingester,
		cfg:      cfg,
		conv:     llm.NewConversation(),
		reader:   bufio.NewReader(os.Stdin),
		writer:   os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Conversation returns the session conversation.
func (s *Server) Conversation() *llm.Conversation {
	return s.conv
}

// Run processes requests until EOF or until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	log.Info("MCP server starting", "conversation", s.conv.ID())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := s.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read request: %w", err)
		}

		s.handleLine(ctx, line)

		if err != nil {
			log.Info("MCP server received EOF, shutting down")
			return nil
		}
	}
}

// handleLine decodes and dispatches one request line.
func (s *Server) handleLine(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		s.sendError(nil, ErrorCodeParse, "Parse error", err.Error())
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.sendError(req.ID, ErrorCodeInvalidRequest, "Invalid request", "")
		return
	}

	s.handleRequest(ctx, req)
}

// handleRequest processes a single MCP request.
func (s *Server) handleRequest(ctx context.Context, req Request) {
	log.Debug("Received request", "method", req.Method, "id", req.ID)

	var result any
	var err error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(req.Params)
	case "initialized", "notifications/initialized":
		s.initialized = true
		log.Info("MCP server initialized")
		return
	case "tools/list":
		result = s.handleListTools()
	case "tools/call":
		result, err = s.handleCallTool(ctx, req.Params)
	case "ping":
		result = map[string]any{}
	default:
		if req.ID == nil {
			// Unknown notifications are ignored
			return
		}
		s.sendError(req.ID, ErrorCodeMethodNotFound, "Method not found", req.Method)
		return
	}

	if err != nil {
		var perr *paramsError
		if errors.As(err, &perr) {
			s.sendError(req.ID, ErrorCodeInvalidParams, "Invalid params", err.Error())
			return
		}
		s.sendError(req.ID, ErrorCodeInternal, "Internal error", err.Error())
		return
	}

	s.sendResult(req.ID, result)
}

type paramsError struct {
	err error
}

func (e *paramsError) Error() string { return "invalid params: " + e.err.Error() }
func (e *paramsError) Unwrap() error { return e.err }

// handleInitialize handles the initialize request.
func (s *Server) handleInitialize(params json.RawMessage) (*InitializeResult, error) {
	var p InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &paramsError{err}
		}
	}

	log.Info("Initializing MCP server",
		"clientName", p.ClientInfo.Name,
		"clientVersion", p.ClientInfo.Version,
		"protocolVersion", p.ProtocolVersion,
	)

	return &InitializeResult{
		ProtocolVersion: MCPVersion,
		Capabilities: Capabilities{
			Tools: &struct{}{},
		},
		ServerInfo: Peer{
			Name:    ServerName,
			Version: ServerVersion,
		},
	}, nil
}

// handleListTools returns the list of available tools.
func (s *Server) handleListTools() *ListToolsResult {
	return &ListToolsResult{Tools: []Tool{
		{
			Name:        "qa_search",
			Description: "Semantic search over ingested QA test cases and performance results.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"query": {
						Type:        "string",
						Description: "What to look for, in natural language",
					},
					"limit": {
						Type:        "number",
						Description: "Maximum number of results to return",
						Default:     search.DefaultOptions().TopK,
						Minimum:     bound(1),
					},
					"min_score": {
						Type:        "number",
						Description: "Drop results scoring below this cosine similarity",
						Default:     s.cfg.Retrieval.MinScore,
						Minimum:     bound(-1),
						Maximum:     bound(1),
					},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "qa_ask",
			Description: "Ask the QA assistant a question. Answers are grounded in the ingested records and the session keeps conversation history.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"question": {
						Type:        "string",
						Description: "The question to answer",
					},
					"model": {
						Type:        "string",
						Description: "Override the configured chat model",
					},
					"reset": {
						Type:        "boolean",
						Description: "Clear the conversation history before asking",
						Default:     false,
					},
				},
				Required: []string{"question"},
			},
		},
		{
			Name:        "qa_ingest",
			Description: "Load QA record files (JSON test cases or performance results) into the index.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"path": {
						Type:        "string",
						Description: "Record file or directory to ingest (default: configured data paths)",
					},
				},
			},
		},
	}}
}

// handleCallTool executes a tool and returns the result.
func (s *Server) handleCallTool(ctx context.Context, params json.RawMessage) (*CallToolResult, error) {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &paramsError{err}
	}

	log.Debug("Calling tool", "name", p.Name, "arguments", p.Arguments)

	switch p.Name {
	case "qa_search":
		return s.toolSearch(ctx, p.Arguments), nil
	case "qa_ask":
		return s.toolAsk(ctx, p.Arguments), nil
	case "qa_ingest":
		return s.toolIngest(ctx, p.Arguments), nil
	default:
		return textResult(fmt.Sprintf("Unknown tool: %s", p.Name), true), nil
	}
}

// toolSearch ranks documents against a query.
func (s *Server) toolSearch(ctx context.Context, args map[string]any) *CallToolResult {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return textResult("Error: query is required", true)
	}

	opts := search.Options{
		TopK:     numberArg(args, "limit", search.DefaultOptions().TopK),
		MinScore: s.cfg.Retrieval.MinScore,
	}
	if v, ok := args["min_score"].(float64); ok {
		opts.MinScore = v
	}

	results, err := s.searcher.Search(ctx, query, opts)
	if err != nil {
		return textResult(fmt.Sprintf("Error: search failed: %v", err), true)
	}
	if len(results) == 0 {
		return textResult("No results found.", false)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d results:\n\n", len(results))
	writeResults(&sb, results)
	return textResult(sb.String(), false)
}

// toolAsk answers a question within the session conversation.
func (s *Server) toolAsk(ctx context.Context, args map[string]any) *CallToolResult {
	question, _ := args["question"].(string)
	if strings.TrimSpace(question) == "" {
		return textResult("Error: question is required", true)
	}

	if reset, _ := args["reset"].(bool); reset {
		s.conv.Reset()
	}

	opts := llm.AnswerOptions{}
	if model, ok := args["model"].(string); ok {
		opts.Model = model
	}

	answer, err := s.answerer.Answer(ctx, s.conv, question, opts)
	if err != nil {
		if errors.Is(err, llm.ErrGenerationFailure) {
			return textResult(fmt.Sprintf("Error: answer generation failed: %v", err), true)
		}
		return textResult(fmt.Sprintf("Error: retrieval failed: %v", err), true)
	}

	var sb strings.Builder
	sb.WriteString(answer.Text)
	if len(answer.Sources) > 0 {
		sb.WriteString("\n\nSources:\n")
		writeResults(&sb, answer.Sources)
	}
	return textResult(sb.String(), false)
}

// toolIngest loads record files.
func (s *Server) toolIngest(ctx context.Context, args map[string]any) *CallToolResult {
	paths := s.cfg.Data.Paths
	if p, ok := args["path"].(string); ok && p != "" {
		paths = []string{p}
	}
	if len(paths) == 0 {
		return textResult("Error: no data paths configured", true)
	}

	report, err := s.ingester.Ingest(ctx, paths, indexer.Options{})
	if err != nil {
		return textResult(fmt.Sprintf("Error: ingestion failed: %v", err), true)
	}

	text := fmt.Sprintf("Ingested %d files (%d documents), skipped %d unchanged files and %d known documents",
		report.Files, report.Documents, report.Skipped, report.Unchanged)
	if len(report.Failures) > 0 {
		return textResult(fmt.Sprintf("%s, %d failed:\n%v", text, len(report.Failures), report.Err()), true)
	}
	return textResult(text, false)
}

// writeResults formats ranked documents as numbered entries.
func writeResults(sb *strings.Builder, results []search.Result) {
	for i, r := range results {
		fmt.Fprintf(sb, "[%d] %s (score %.4f)\n%s\n", i+1, r.Document.Kind, r.Score, r.Document.Content)
		if len(r.Document.Metadata) > 0 {
			if meta, err := json.Marshal(r.Document.Metadata); err == nil {
				sb.Write(meta)
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}
}

// numberArg reads a numeric argument sent as a JSON number or string.
func numberArg(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case string:
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

// sendResult sends a successful response.
func (s *Server) sendResult(id any, result any) {
	s.send(Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

// sendError sends an error response.
func (s *Server) sendError(id any, code int, message, data string) {
	e := &Error{Code: code, Message: message}
	if data != "" {
		e.Data = data
	}
	s.send(Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   e,
	})
}

// send writes one response line.
func (s *Server) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("Failed to marshal response", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.writer, string(data))
}
