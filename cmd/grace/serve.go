package main

import (
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/grace/config"
	"github.com/becomeliminal/grace/engine"
	"github.com/becomeliminal/grace/memory"
	"github.com/becomeliminal/grace/server"
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Long: `Serve Grace over WebSocket (/ws) with an HTTP health check (/health)
and, optionally, a gRPC health service. Maintenance runs in the background and
the authorized-user list is reloaded when the config file changes.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "HTTP listen address (default from config)")
	cmd.Flags().String("grpc-addr", "", "gRPC health listen address (default from config)")
	cmd.Flags().Bool("watch", true, "Reload authorized users when the config file changes")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.LLM.APIKey == "" {
		return errors.New("ANTHROPIC_API_KEY is required to serve chat")
	}
	eng := newEngine(a, anthropic.NewClient(option.WithAPIKey(a.cfg.LLM.APIKey)))

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	grpcAddr, _ := cmd.Flags().GetString("grpc-addr")
	if grpcAddr == "" {
		grpcAddr = a.cfg.Server.GRPCAddr
	}

	srv, err := server.New(server.Config{Engine: eng, GRPCAddr: grpcAddr})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return srv.Run(ctx, addr)
	})
	g.Go(func() error {
		memory.NewMaintainer(a.manager, eng.Bridge(), a.cfg.Maintenance.Interval, a.cfg.Maintenance.Merge).Run(ctx)
		return nil
	})
	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		path, _ := cmd.Flags().GetString("config")
		allow := a.manager.AllowList()
		g.Go(func() error {
			if err := config.Watch(ctx, path, config.DefaultDebounce, func(cfg *config.Config) {
				allow.Replace(cfg.AuthorizedUsers)
			}); err != nil {
				zap.L().Warn("config watch disabled", zap.Error(err))
			}
			return nil
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Grace listening on %s (ws://%s/ws)\n", addr, addr)
	return g.Wait()
}

func newEngine(a *app, client anthropic.Client) *engine.Engine {
	return engine.NewEngine(&client.Messages, a.manager,
		engine.WithBridge(a.bridge),
		engine.WithModel(a.cfg.LLM.Model),
		engine.WithMaxTokens(a.cfg.LLM.MaxTokens),
		engine.WithSystemPrompt(a.cfg.LLM.SystemPrompt),
		engine.WithContextItems(a.cfg.Memory.ContextItems),
		engine.WithMaxHistory(a.cfg.LLM.MaxHistory),
	)
}
