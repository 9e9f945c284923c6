package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mediavault/engine/internal/engine/stub"
	"github.com/mediavault/engine/internal/mediadb"
	"github.com/mediavault/engine/internal/shard"
	"github.com/mediavault/engine/internal/storage"
)

var summaryCmd = &cobra.Command{
	Use:   "summary <database-root>",
	Short: "Print total imports, files, and bytes for a database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, err := storage.NewLocal(args[0])
		if err != nil {
			return fmt.Errorf("open database root: %w", err)
		}

		col := mediadb.Collaborators{
			UUIDs:       stub.UuidGenerator{},
			Clock:       stub.TimestampProvider{},
			Tooling:     stub.MediaTooling{},
			Validator:   stub.Validator{},
			Thumbnailer: stub.Thumbnailer{},
		}
		db, err := mediadb.Open(ctx, st, col, shard.DefaultBucketCount, shard.DefaultCapacity)
		if err != nil {
			return fmt.Errorf("open media database: %w", err)
		}

		summary, err := db.GetDatabaseSummary(ctx)
		if err != nil {
			return fmt.Errorf("summarize: %w", err)
		}

		fmt.Printf("imports: %d\nfiles:   %d\nbytes:   %d\n", summary.TotalImports, summary.TotalFiles, summary.TotalSize)
		return nil
	},
}
