package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/osbuild/diskfmt/internal/common"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "diskfmt %s\n", common.VersionString())
			if common.BuildGoVersion != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "built with %s\n", common.BuildGoVersion)
			}
			return nil
		},
	}
}
