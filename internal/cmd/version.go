package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version is set by the main package from build-time ldflags.
	Version = "dev"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of wasmgcopt",
	Long:  `Display the current version of the wasmgcopt CLI tool.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wasmgcopt version %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
