package main

import (
	"github.com/spf13/cobra"

	"github.com/Open-Harness/open-harness-sub011/internal/cli"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

var recordingsCmd = &cobra.Command{
	Use:     "recordings",
	Aliases: []string{"rec"},
	Short:   "Manage recorded runs",
}

var recordingsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List recorded runs, newest first",
	Args:    cobra.NoArgs,
	RunE: withEnv(func(cmd *cobra.Command, env *cli.Environment, args []string) error {
		var query domain.RunQuery
		query.Flow, _ = cmd.Flags().GetString("flow")
		status, _ := cmd.Flags().GetString("status")
		query.Status = domain.RunStatus(status)
		query.Limit, _ = cmd.Flags().GetInt("limit")
		return cli.ListRecordings(cmd.Context(), env, query, cmd.OutOrStdout())
	}),
}

var recordingsInspectCmd = &cobra.Command{
	Use:   "inspect <run-id>",
	Short: "Print a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, env *cli.Environment, args []string) error {
		eventsOnly, _ := cmd.Flags().GetBool("events")
		return cli.InspectRecording(cmd.Context(), env, args[0], eventsOnly, cmd.OutOrStdout())
	}),
}

var recordingsRemoveCmd = &cobra.Command{
	Use:     "rm <run-id>...",
	Aliases: []string{"delete"},
	Short:   "Delete recorded runs",
	Args:    cobra.MinimumNArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, env *cli.Environment, args []string) error {
		return cli.RemoveRecordings(cmd.Context(), env, args, cmd.OutOrStdout())
	}),
}

func init() {
	rootCmd.AddCommand(recordingsCmd)
	recordingsCmd.AddCommand(recordingsListCmd, recordingsInspectCmd, recordingsRemoveCmd)

	recordingsListCmd.Flags().String("flow", "", "Only runs of this flow")
	recordingsListCmd.Flags().String("status", "", "Only runs with this status")
	recordingsListCmd.Flags().Int("limit", 20, "Maximum number of runs")
	recordingsInspectCmd.Flags().Bool("events", false, "Print only the events, one JSON object per line")
}
