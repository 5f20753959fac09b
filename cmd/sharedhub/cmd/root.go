package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sharedhub",
	Short: "Shared state hub for browser tabs",
	Long: `sharedhub keeps a chat relay, a presence list and a LIGHT/DARK theme in
sync across every browser tab connected to it over WebSocket.

Use "sharedhub [command] --help" for more information about a command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
