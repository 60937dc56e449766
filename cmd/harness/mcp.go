package main

import (
	"github.com/spf13/cobra"

	"github.com/Open-Harness/open-harness-sub011/internal/cli"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Exposes flows and runs as MCP tools, so agents can start runs and answer prompts.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	Args: cobra.NoArgs,
	RunE: withEnv(func(cmd *cobra.Command, env *cli.Environment, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = env.Config.HTTP.Addr
		}
		return cli.ServeMCP(cmd.Context(), env, transport, addr)
	}),
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().String("addr", "", "Listen address, only for SSE (overrides http.addr)")
}
