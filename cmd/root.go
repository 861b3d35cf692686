// Package cmd implements the floatchat command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "floatchat",
	Short: "FloatChat - natural language queries over ARGO ocean float data",
	Long: `FloatChat turns plain-language questions about oceanographic float
data into safe, read-only SQL queries, enriched with geographic reasoning,
retrieved reference context, and multi-turn conversation history.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
