package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planfleet/planfleet/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("planfleet version %s\n", version.Get())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
