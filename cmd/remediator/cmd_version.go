package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invisible-tech/autoheal-remediator/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the remediator version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}
