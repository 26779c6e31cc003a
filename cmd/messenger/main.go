package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	Execute()
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "messenger",
		Short:        "Feishu messenger: buffered inbound and outbound message pipelines",
		Version:      version,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newBroadcastCmd())
	cmd.AddCommand(newMCPCmd())

	return cmd
}
