package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Overridden at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "puppetline %s (%s)\n", version, commit)
		},
	}
}
