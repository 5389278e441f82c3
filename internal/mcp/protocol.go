// Package mcp exposes QA search and chat as Model Context Protocol tools
// over JSON-RPC 2.0 lines on stdio.
package mcp

import "encoding/json"

// JSON-RPC 2.0 error codes.
const (
	ErrorCodeParse          = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternal       = -32603
)

// Request is one JSON-RPC message read from the client. Notifications have
// no ID.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response carries either Result or Error for the request with the same ID.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Peer names the client or server in the initialize handshake.
type Peer struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams is the part of the client's initialize request the
// server reads.
type InitializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      Peer   `json:"clientInfo"`
}

// Capabilities advertises tool support. A non-nil Tools field means the
// server answers tools/list and tools/call.
type Capabilities struct {
	Tools *struct{} `json:"tools,omitempty"`
}

type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      Peer         `json:"serverInfo"`
}

// Tool describes one callable tool and the shape of its arguments.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema is the object schema of a tool's arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Default     any      `json:"default,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CallToolResult is a tool's output. Tool failures are reported with IsError
// rather than as JSON-RPC errors.
type CallToolResult struct {
	Content []TextBlock `json:"content"`
	IsError bool        `json:"isError,omitempty"`
}

type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// textResult wraps text in a single-block tool result.
func textResult(text string, isError bool) *CallToolResult {
	return &CallToolResult{
		Content: []TextBlock{{Type: "text", Text: text}},
		IsError: isError,
	}
}

func bound(v float64) *float64 {
	return &v
}
