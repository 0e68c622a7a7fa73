package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/spf13/cobra"

	"github.com/becomeliminal/grace/engine"
)

func NewChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with Grace in the terminal",
		Long: `Read messages from stdin, one per line, and print Grace's replies.
Lines starting with !grace.learn are handled as learn commands.`,
		Args: cobra.NoArgs,
		RunE: runChat,
	}

	cmd.Flags().StringP("user", "u", "", "Username to chat as (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var eng *engine.Engine
	if a.cfg.LLM.APIKey != "" {
		eng = newEngine(a, anthropic.NewClient(option.WithAPIKey(a.cfg.LLM.APIKey)))
	} else {
		eng = engine.NewEngine(nil, a.manager, engine.WithBridge(a.bridge))
		fmt.Fprintln(cmd.ErrOrStderr(), "ANTHROPIC_API_KEY not set: only commands are available")
	}

	user, _ := cmd.Flags().GetString("user")
	session := engine.NewSession(user)
	out := cmd.OutOrStdout()

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		reply, err := eng.Chat(cmd.Context(), session, line)
		if err != nil {
			if errors.Is(err, engine.ErrNoModel) {
				fmt.Fprintln(out, "(no model configured)")
				continue
			}
			return fmt.Errorf("chat: %w", err)
		}
		fmt.Fprintln(out, reply.Text)
	}
	fmt.Fprintln(out)
	return scanner.Err()
}
