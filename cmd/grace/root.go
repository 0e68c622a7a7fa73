package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "grace",
		Short:         "Tiered conversational memory for the Grace assistant",
		Long:          `Grace keeps short-term, medium-term and long-term memories in a vector store and uses them to answer chat messages.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			logger, err := newLogger(level)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	addPersistentFlags(rootCmd)
	rootCmd.AddCommand(
		NewServeCmd(),
		NewChatCmd(),
		NewLearnCmd(),
		NewQueryCmd(),
		NewContextCmd(),
		NewPruneCmd(),
		NewMergeCmd(),
		NewEventsCmd(),
	)
	return rootCmd
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "grace.yaml", "Path to the YAML config file")
	cmd.PersistentFlags().String("log-level", "warn", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	if lvl.Level() <= zap.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = lvl
	}
	return cfg.Build()
}

func outputJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func wantJSON(cmd *cobra.Command) bool {
	asJSON, _ := cmd.Flags().GetBool("json")
	return asJSON
}
