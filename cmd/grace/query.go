package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/grace/memory"
)

func NewQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search memory across scopes",
		Long:  `Run a similarity query against core, global and (with --user) the user's own memory.`,
		Args:  cobra.MinimumNArgs(1),
		RunE:  runQuery,
	}

	cmd.Flags().StringP("user", "u", "", "Include this user's memory")
	cmd.Flags().IntP("number", "n", 5, "Maximum results per scope")
	cmd.Flags().StringSlice("type", nil, "Restrict to memory types (short_term, medium_term, long_term)")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	limit, _ := cmd.Flags().GetInt("number")
	typeNames, _ := cmd.Flags().GetStringSlice("type")

	var types []memory.MemoryType
	for _, name := range typeNames {
		t := memory.MemoryType(name)
		if !t.Valid() {
			return fmt.Errorf("unknown memory type %q", name)
		}
		types = append(types, t)
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	results := a.manager.QueryMemory(cmd.Context(), strings.Join(args, " "), memory.QueryOptions{
		UserID:      user,
		Limit:       limit,
		MemoryTypes: types,
	})
	if wantJSON(cmd) {
		return outputJSON(cmd, results)
	}

	out := cmd.OutOrStdout()
	for _, r := range results.All() {
		fmt.Fprintf(out, "%.4f  %-6s  %-11s  %s\n", r.Relevance, r.Scope, r.MemoryType(), r.Text)
	}
	if results.Len() == 0 {
		fmt.Fprintln(out, "No memories found.")
	}
	return nil
}

func NewContextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context <text>",
		Short: "Show the memory context Grace would inject for a message",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runContext,
	}

	cmd.Flags().StringP("user", "u", "", "Username the message comes from")
	cmd.Flags().IntP("number", "n", memory.DefaultContextItems, "Maximum memories")
	return cmd
}

func runContext(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	limit, _ := cmd.Flags().GetInt("number")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	query := strings.Join(args, " ")
	if wantJSON(cmd) {
		return outputJSON(cmd, a.bridge.GetRelevantContext(cmd.Context(), query, user, limit))
	}
	block := a.bridge.GenerateContextForPrompt(cmd.Context(), query, user, limit)
	if block == "" {
		block = "No relevant memories."
	}
	fmt.Fprintln(cmd.OutOrStdout(), block)
	return nil
}
