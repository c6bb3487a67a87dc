package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Scenario - headless API scenario execution engine",
	Long: `Scenario walks a declarative step graph of HTTP requests, conditions,
loops, and groups against configured servers, and reports the result as
JSON or through a headless control-plane server.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serveCmd)
}
