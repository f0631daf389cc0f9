package main

import (
	"fmt"
	"runtime"

	"github.com/Amund211/marketcache/internal/constants"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "marketcache version: %s\n", constants.VERSION)
			fmt.Fprintf(out, "  go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  user agent: %s\n", constants.USER_AGENT)
		},
	}
}
