package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vikashloomba/mcp-gateway-go/pkg/registry"
)

const clientServerName = "mcp-gateway"

// clientServer is one server entry in an MCP client's configuration file.
type clientServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

var clientConfigHints = map[string]string{
	"claude": "~/Library/Application Support/Claude/claude_desktop_config.json",
	"vscode": "VS Code Settings → MCP",
}

func newConfigCmd(root *rootOptions) *cobra.Command {
	var output, groups string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate client configuration",
		Long: `Config prints the JSON snippet an MCP client needs to launch this gateway
over stdio for the given groups.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath := root.configPath
			if configPath != "" {
				store, err := openStore(root)
				if err != nil {
					return err
				}
				configPath = store.Path()
			}
			doc, err := clientConfig(output, executablePath(), configPath, groups)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			errOut := cmd.ErrOrStderr()
			fmt.Fprintln(errOut, headingStyle.Render("Configuration:"))
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			fmt.Fprintln(errOut, dimStyle.Render("Add this to your client configuration file:"))
			fmt.Fprintln(errOut, dimStyle.Render(clientConfigHints[output]))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "claude", "output format: claude or vscode")
	cmd.Flags().StringVarP(&groups, "groups", "g", registry.DefaultGroup, "comma separated server groups the client should see")
	return cmd
}

// clientConfig builds the document for the given client format. Claude
// Desktop nests servers under "mcpServers", VS Code under "servers".
func clientConfig(output, command, configPath, groups string) (map[string]any, error) {
	var key string
	switch output {
	case "claude":
		key = "mcpServers"
	case "vscode":
		key = "servers"
	default:
		return nil, fmt.Errorf("unknown output format %q (want claude or vscode)", output)
	}
	selected := registry.ParseGroups(groups)
	if len(selected) == 0 {
		selected = []string{registry.DefaultGroup}
	}
	server := clientServer{
		Command: command,
		Args:    []string{"start"},
		Env:     map[string]string{registry.EnvGroups: strings.Join(selected, ",")},
	}
	if configPath != "" {
		server.Args = append(server.Args, "--config", configPath)
	}
	return map[string]any{
		key: map[string]clientServer{clientServerName: server},
	}, nil
}

func executablePath() string {
	path, err := os.Executable()
	if err != nil {
		return clientServerName
	}
	return path
}
