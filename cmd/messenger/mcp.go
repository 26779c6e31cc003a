package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/devricklin/feishu-messenger/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the outbox as MCP tools on stdio while receiving messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			go func() {
				if err := a.messenger.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					a.log.Error().Err(err).Msg("messenger stopped")
				}
			}()

			srv := mcp.NewServer(a.messenger, a.repos.Chat, a.repos.Message, version)
			err = srv.Run(ctx)
			cancel()
			a.drain()
			return err
		},
	}
}
