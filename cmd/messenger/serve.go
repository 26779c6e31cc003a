package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Receive and deliver messages until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.messenger.Start(ctx)
			a.log.Info().Msg("shutting down, waiting for queued messages")
			a.drain()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
