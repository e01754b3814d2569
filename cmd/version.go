package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/wagoo/bridge/internal/discovery"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wagoo-bridge %s (%s, %s)\n", Version, discovery.Platform(), runtime.Version())
		},
	}
}
