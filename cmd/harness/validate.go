package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Open-Harness/open-harness-sub011/internal/cli"
)

var validateCmd = &cobra.Command{
	Use:   "validate [flow...]",
	Short: "Validate flows",
	Long:  `Compiles the given flows, or every flow in the directory, and checks exec tools and edges.`,
	RunE: withEnv(func(cmd *cobra.Command, env *cli.Environment, args []string) error {
		if err := cli.Validate(cmd.Context(), env, args); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Flows are valid")
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
