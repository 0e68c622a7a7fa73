package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func NewLearnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn <entity> <update>",
		Short: "Add global knowledge as an authorized user",
		Long:  `Store "<entity>: <update>" in global memory with high priority. The author must be in the authorized-user list.`,
		Args:  cobra.MinimumNArgs(2),
		RunE:  runLearn,
	}

	cmd.Flags().StringP("author", "a", "", "Authorized username recorded as the author (required)")
	_ = cmd.MarkFlagRequired("author")
	return cmd
}

func runLearn(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	author, _ := cmd.Flags().GetString("author")
	entity := strings.TrimSpace(args[0])
	update := strings.TrimSpace(strings.Join(args[1:], " "))

	ok, err := a.manager.CommandLearn(cmd.Context(), entity, update, author)
	if err != nil {
		return fmt.Errorf("learn: %w", err)
	}
	if !ok {
		return errors.New(author + " is not authorized to update global knowledge")
	}

	if wantJSON(cmd) {
		return outputJSON(cmd, map[string]any{"entity": entity, "author": author, "learned": true})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Learned: %s: %s\n", entity, update)
	return nil
}
