package main

import (
	"fmt"

	"github.com/spf13/cobra"

	harness "github.com/Open-Harness/open-harness-sub011"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of harness",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "harness version %s\n", harness.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
