package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nickcecere/qitops/internal/install"
	"github.com/nickcecere/qitops/internal/ui"
)

var (
	installCommand string
	installConfig  string
)

// installCmd registers the MCP server with a client.
var installCmd = &cobra.Command{
	Use:   "install <client>",
	Short: "Register qitops as an MCP server in an AI client",
	Long: `Add qitops to the "mcpServers" section of an MCP client's settings so the
client starts 'qitops mcp' on demand.

Supported clients: ` + clientNames() + `

Examples:
  qitops install claude-code
  qitops install cursor --command /usr/local/bin/qitops`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := install.Lookup(args[0])
		if err != nil {
			return err
		}
		path := installConfig
		if path == "" {
			path = client.ConfigPath()
		}

		entry := install.DefaultEntry()
		entry.Command = installCommand
		if err := install.Register(path, entry); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.Success.Render("Installed qitops into "+client.Title))
		fmt.Fprintf(out, "Config updated: %s\n", path)
		fmt.Fprintf(out, "To remove it: qitops uninstall %s\n", client.Name)
		return nil
	},
}

// uninstallCmd removes the MCP server from a client.
var uninstallCmd = &cobra.Command{
	Use:   "uninstall <client>",
	Short: "Remove qitops from an AI client",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := install.Lookup(args[0])
		if err != nil {
			return err
		}
		path := installConfig
		if path == "" {
			path = client.ConfigPath()
		}

		removed, err := install.Unregister(path)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !removed {
			fmt.Fprintf(out, "qitops is not installed in %s\n", client.Title)
			return nil
		}
		fmt.Fprintln(out, ui.Success.Render("Uninstalled qitops from "+client.Title))
		return nil
	},
}

func init() {
	installCmd.Flags().StringVar(&installCommand, "command", install.DefaultEntry().Command, "command the client runs")
	installCmd.Flags().StringVar(&installConfig, "settings", "", "client settings file (default per client)")
	uninstallCmd.Flags().StringVar(&installConfig, "settings", "", "client settings file (default per client)")
}

func clientNames() string {
	var names []string
	for _, c := range install.Clients() {
		names = append(names, c.Name)
	}
	return strings.Join(names, ", ")
}
