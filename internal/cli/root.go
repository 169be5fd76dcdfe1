package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "muze",
	Short: "Open-loop tracking and nudge dispatch engine",
	Long:  "Muze tracks open loops in ongoing conversations and schedules proactive check-in nudges. Single Go binary backed by SQLite.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(sendCmd)
}
