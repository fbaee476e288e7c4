package cmd

import (
	"github.com/nutrifyke/offlinecache/internal/mcp"
	"github.com/spf13/cobra"
)

// mcpCmd represents the mcp command.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the offline cache MCP server",
	Long:  `Launch an MCP server over stdio that lets AI agents inspect the cache storage and asset manifest via standard tools.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		// stdio carries the protocol, so setup must not print anything.
		return sharedSetup(rootCtx, cmd, args)
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		return mcp.StartMCPServer(rootCtx, cfg, cacheManager)
	},
}
