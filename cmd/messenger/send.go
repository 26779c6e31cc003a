package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
)

func newSendCmd() *cobra.Command {
	var chatID int64

	cmd := &cobra.Command{
		Use:   "send [text]",
		Short: "Send a message to a stored chat and wait for delivery",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			text := strings.Join(args, " ")
			if !a.messenger.AddMessageToOutbox(cmd.Context(), chatID, text) {
				return fmt.Errorf("message to chat %d was not queued", chatID)
			}
			a.drain()
			return nil
		},
	}

	cmd.Flags().Int64Var(&chatID, "chat", 0, "Internal chat ID.")
	_ = cmd.MarkFlagRequired("chat")
	return cmd
}

func newBroadcastCmd() *cobra.Command {
	var roles []string

	cmd := &cobra.Command{
		Use:   "broadcast [text]",
		Short: "Send a message to every user having one of the roles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			parsed := make([]domain.Role, len(roles))
			for i, r := range roles {
				parsed[i] = domain.Role(strings.ToUpper(strings.TrimSpace(r)))
			}

			if !a.messenger.AddMessageToOutboxByRoles(cmd.Context(), strings.Join(args, " "), parsed...) {
				return fmt.Errorf("broadcast was not queued")
			}
			a.drain()
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&roles, "role", []string{string(domain.RoleOwner), string(domain.RoleAdmin)}, "Roles receiving the message.")
	return cmd
}
