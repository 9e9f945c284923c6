package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mediavault/engine/internal/replicate"
	"github.com/mediavault/engine/internal/storage"
)

var (
	replicateForce      bool
	replicatePartial    bool
	replicatePathFilter string
)

var replicateCmd = &cobra.Command{
	Use:   "replicate <source-root> <destination-root>",
	Short: "One-way replicate a database's files and records onto a destination",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		src, err := storage.NewLocal(args[0])
		if err != nil {
			return fmt.Errorf("open source: %w", err)
		}
		dst, err := storage.NewLocal(args[1])
		if err != nil {
			return fmt.Errorf("open destination: %w", err)
		}

		report, err := replicate.Replicate(ctx, src, dst, replicate.Options{
			Force:      replicateForce,
			Partial:    replicatePartial,
			PathFilter: replicatePathFilter,
			Progress:   func(msg string) { fmt.Println(msg) },
		})
		if err != nil {
			return fmt.Errorf("replicate: %w", err)
		}

		fmt.Printf("files copied: %d, files pruned: %d, records updated: %d, records deleted: %d\n",
			report.FilesCopied, report.FilesPruned, report.RecordsUpdated, report.RecordsDeleted)
		return nil
	},
}

func init() {
	replicateCmd.Flags().BoolVar(&replicateForce, "force", false, "replicate even if destination identity doesn't match source")
	replicateCmd.Flags().BoolVar(&replicatePartial, "partial", false, "only replicate root-level files and thumbnails")
	replicateCmd.Flags().StringVar(&replicatePathFilter, "path", "", "only replicate files under this path prefix")
}
