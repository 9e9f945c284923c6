// Command mediactl is a thin front-end over the engine packages under
// internal/: the database itself treats any CLI or service as an external
// collaborator, and this binary exists to demonstrate the wiring. It
// reaches for cobra rather than hand-rolled flag parsing since cobra is
// already resolved transitively through viper's dependency graph.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mediavault/engine/internal/obs/logging"
)

var (
	logLevel  string
	logOutput string
	logDir    string
)

var rootCmd = &cobra.Command{
	Use:           "mediactl",
	Short:         "Inspect and operate a mediavault content-addressed database",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Init(logging.Options{Level: logLevel, Output: logOutput, LogDir: logDir})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stdout", "stdout|file|both")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "./logs", "log directory, used when --log-output is file or both")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(replicateCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(repairCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mediactl:", err)
		os.Exit(1)
	}
}
