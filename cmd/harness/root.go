package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Open-Harness/open-harness-sub011/internal/cli"
	"github.com/Open-Harness/open-harness-sub011/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "harness",
	Short: "Harness runs workflow graphs of agents, gates and tools",
	Long: `Harness executes flows: directed graphs of nodes loaded from YAML files.
Runs can be driven from the terminal, recorded and replayed, or served over
HTTP and the Model Context Protocol.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, cli.ErrRunFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "harness.yaml", "Configuration file (optional)")
	rootCmd.PersistentFlags().String("dir", "", "Directory containing the flows (overrides flows.dir)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error (overrides log.level)")
}

// loadConfig reads the configuration file and environment, then applies
// the persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		cfg.Flows.Dir = dir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, cfg.Validate()
}

// setup builds the shared environment. The caller closes it.
func setup(cmd *cobra.Command) (*cli.Environment, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return cli.Setup(cmd.Context(), cfg, cli.NewLogger(cfg.Log))
}

// withEnv adapts a command body that needs the environment.
func withEnv(fn func(cmd *cobra.Command, env *cli.Environment, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		env, err := setup(cmd)
		if err != nil {
			return err
		}
		defer env.Close()
		return fn(cmd, env, args)
	}
}
