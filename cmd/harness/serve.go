package main

import (
	"github.com/spf13/cobra"

	"github.com/Open-Harness/open-harness-sub011/internal/cli"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Serves the run API over HTTP: start runs, stream their events over SSE or
WebSocket, answer prompts and read recordings. Prometheus metrics are
exposed on /metrics.`,
	Args: cobra.NoArgs,
	RunE: withEnv(func(cmd *cobra.Command, env *cli.Environment, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = env.Config.HTTP.Addr
		}
		return cli.Serve(cmd.Context(), env, addr)
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides http.addr)")
}
