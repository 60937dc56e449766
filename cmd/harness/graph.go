package main

import (
	"github.com/spf13/cobra"

	"github.com/Open-Harness/open-harness-sub011/internal/cli"
)

var graphCmd = &cobra.Command{
	Use:   "graph <flow>",
	Short: "Print a flow as a Mermaid chart",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, env *cli.Environment, args []string) error {
		runID, _ := cmd.Flags().GetString("run")
		return cli.Graph(cmd.Context(), env, args[0], runID, cmd.OutOrStdout())
	}),
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("run", "", "Paint node states of a recorded run")
}
