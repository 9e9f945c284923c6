package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mediavault/engine/internal/repair"
	"github.com/mediavault/engine/internal/storage"
)

var (
	repairSource string
	repairFull   bool
)

var repairCmd = &cobra.Command{
	Use:   "repair <database-root>",
	Short: "Detect and fix missing/drifted/corrupt files, optionally restoring from a healthy source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		local, err := storage.NewLocal(args[0])
		if err != nil {
			return fmt.Errorf("open database root: %w", err)
		}

		opts := repair.Options{
			Full:     repairFull,
			Progress: func(msg string) { fmt.Println(msg) },
		}
		if repairSource != "" {
			src, err := storage.NewLocal(repairSource)
			if err != nil {
				return fmt.Errorf("open source: %w", err)
			}
			opts.Source = src
		}

		report, err := repair.Repair(ctx, local, opts)
		if err != nil {
			return fmt.Errorf("repair: %w", err)
		}

		fmt.Printf("modified: %v\nnew: %v\nremoved: %v\nrepaired: %v\nunrepaired: %v\n",
			report.Modified, report.New, report.Removed, report.Repaired, report.Unrepaired)
		return nil
	},
}

func init() {
	repairCmd.Flags().StringVar(&repairSource, "source", "", "healthy database root to restore damaged files from")
	repairCmd.Flags().BoolVar(&repairFull, "full", false, "re-hash every tracked file, even ones whose size/mtime look unchanged")
}
