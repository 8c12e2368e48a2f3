// mcp-gateway exposes the tools of many MCP servers through a single MCP
// server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootOptions carry the flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "mcp-gateway",
		Short: "MCP Gateway - aggregate multiple MCP servers",
		Long: `mcp-gateway launches the MCP servers configured in its registry, merges their
tools into one catalog (each tool prefixed with its server id) and serves that
catalog to a single MCP client over stdio or Streamable HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"path to the registry file (default $MCP_GATEWAY_CONFIG or ~/.mcp-gateway/config.json)")

	cmd.AddCommand(
		newStartCmd(opts),
		newListCmd(opts),
		newAddCmd(opts),
		newRemoveCmd(opts),
		newEnableCmd(opts),
		newDisableCmd(opts),
		newConfigCmd(opts),
		newInitCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
