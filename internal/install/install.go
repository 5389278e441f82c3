// Package install registers the qitops MCP server with MCP client
// applications that keep an "mcpServers" map in a JSON settings file.
package install

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
)

// ServerName is the key used in the client's mcpServers map.
const ServerName = "qitops"

// Client describes an MCP client application.
type Client struct {
	Name       string // Command name, e.g. "claude-code"
	Title      string // Display name
	ConfigPath func() string
}

// Clients returns the supported clients.
func Clients() []Client {
	home, _ := os.UserHomeDir()
	return []Client{
		{
			Name:       "claude-code",
			Title:      "Claude Code",
			ConfigPath: func() string { return filepath.Join(home, ".claude.json") },
		},
		{
			Name:       "cursor",
			Title:      "Cursor",
			ConfigPath: func() string { return filepath.Join(home, ".cursor", "mcp.json") },
		},
	}
}

// Lookup returns the client with the given name.
func Lookup(name string) (Client, error) {
	clients := Clients()
	i := slices.IndexFunc(clients, func(c Client) bool { return c.Name == name })
	if i < 0 {
		names := make([]string, len(clients))
		for j, c := range clients {
			names[j] = c.Name
		}
		return Client{}, fmt.Errorf("unknown client %q (supported: %s)", name, strings.Join(names, ", "))
	}
	return clients[i], nil
}

// Entry is the server command written into a client's settings.
type Entry struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// DefaultEntry starts "qitops mcp" from PATH.
func DefaultEntry() Entry {
	return Entry{Command: "qitops", Args: []string{"mcp"}}
}

// Register adds or replaces the qitops entry in the settings file at path.
// Other keys in the file are preserved.
func Register(path string, entry Entry) error {
	settings, err := readSettings(path)
	if err != nil {
		return err
	}

	servers, ok := settings["mcpServers"].(map[string]any)
	if !ok {
		servers = make(map[string]any)
	}
	servers[ServerName] = entry
	settings["mcpServers"] = servers

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := writeSettings(path, settings); err != nil {
		return err
	}

	log.Debug("Registered MCP server", "config", path, "command", entry.Command)
	return nil
}

// Unregister removes the qitops entry. A missing file is not an error.
// It reports whether an entry was removed.
func Unregister(path string) (bool, error) {
	settings, err := readSettings(path)
	if err != nil {
		return false, err
	}

	servers, ok := settings["mcpServers"].(map[string]any)
	if !ok {
		return false, nil
	}
	if _, ok := servers[ServerName]; !ok {
		return false, nil
	}
	delete(servers, ServerName)

	return true, writeSettings(path, settings)
}

func readSettings(path string) (map[string]any, error) {
	settings := make(map[string]any)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse existing config: %w", err)
	}
	return settings, nil
}

func writeSettings(path string, settings map[string]any) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
