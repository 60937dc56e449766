package main

import (
	"github.com/spf13/cobra"

	"github.com/Open-Harness/open-harness-sub011/internal/cli"
)

var runCmd = &cobra.Command{
	Use:   "run <flow>",
	Short: "Run a flow in the terminal",
	Long: `Runs a flow and prints its events. Prompts are answered on stdin.

With --json, events are written as JSON lines and answers are read one per line.
With --watch, the run restarts whenever the flow files change.`,
	Args: cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, env *cli.Environment, args []string) error {
		opts := cli.RunOptions{Flow: args[0], In: cmd.InOrStdin(), Out: cmd.OutOrStdout()}
		opts.Input, _ = cmd.Flags().GetString("input")
		opts.JSON, _ = cmd.Flags().GetBool("json")
		opts.Verbose, _ = cmd.Flags().GetBool("verbose")
		opts.Record, _ = cmd.Flags().GetBool("record")
		opts.Replay, _ = cmd.Flags().GetString("replay")
		opts.RunID, _ = cmd.Flags().GetString("run-id")
		opts.SessionID, _ = cmd.Flags().GetString("session-id")
		opts.Watch, _ = cmd.Flags().GetBool("watch")
		return cli.Execute(cmd.Context(), env, opts)
	}),
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("input", "i", "", "Run input as JSON, or @file")
	runCmd.Flags().Bool("json", false, "Run in JSON mode (NDJSON input/output)")
	runCmd.Flags().BoolP("verbose", "v", false, "Print every lifecycle event")
	runCmd.Flags().Bool("record", false, "Record the run in the configured store")
	runCmd.Flags().String("replay", "", "Replay node outputs from a recorded run")
	runCmd.Flags().String("run-id", "", "Run id (generated when empty)")
	runCmd.Flags().String("session-id", "", "Session id shared by related runs")
	runCmd.Flags().BoolP("watch", "w", false, "Run in development mode with hot-reload")
}
