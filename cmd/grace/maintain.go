package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/grace/memory"
)

func NewPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete expired short-term and medium-term memories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.manager.PruneExpiredMemories(cmd.Context())
			if wantJSON(cmd) {
				if jerr := outputJSON(cmd, report); jerr != nil {
					return jerr
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d short-term and %d medium-term memories across %d collections\n",
				report.ShortTerm, report.MediumTerm, report.Collections)
			return err
		},
	}
}

func NewMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge near-duplicate long-term memories",
		Long:  `Merge long-term memories about the same entity whose similarity exceeds the threshold. Without --entity every entity is processed.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entity, _ := cmd.Flags().GetString("entity")
			threshold, _ := cmd.Flags().GetFloat64("threshold")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if threshold <= 0 {
				threshold = a.manager.Config().MergeThreshold
			}
			var report memory.MergeReport
			if entity != "" {
				report, err = a.manager.MergeRelatedMemories(cmd.Context(), entity, threshold)
			} else {
				report, err = a.manager.MergeAllEntities(cmd.Context(), threshold)
			}
			if wantJSON(cmd) {
				if jerr := outputJSON(cmd, report); jerr != nil {
					return jerr
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Merged %d pairs across %d entities\n", report.Merged, report.Entities)
			return err
		},
	}

	cmd.Flags().StringP("entity", "e", "", "Only merge memories about this entity")
	cmd.Flags().Float64("threshold", 0, "Similarity threshold (default from config)")
	return cmd
}
