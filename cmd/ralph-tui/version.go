package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// versionString is set at build time via -ldflags; the default "dev"
// marks a development build.
var versionString = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ralph-tui version %s\n", versionString)
	},
}
