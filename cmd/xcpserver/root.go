package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "xcpserver",
		Short: "XCP on UDP transport server",
		Long: `xcpserver serves the XCP on UDP transport layer: it accepts the CONNECT
handshake of one measurement client, answers session commands and streams
measurement data (DTOs) packed into datagrams.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newConnectCmd())
	return root
}
