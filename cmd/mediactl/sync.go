package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	syncpkg "github.com/mediavault/engine/internal/sync"
	"github.com/mediavault/engine/internal/storage"
	"github.com/mediavault/engine/internal/writelock"
)

var syncStaleAfter time.Duration

var syncCmd = &cobra.Command{
	Use:   "sync <database-root-a> <database-root-b>",
	Short: "Bidirectionally merge two databases, resolving conflicts by last-write-wins",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := storage.NewLocal(args[0])
		if err != nil {
			return fmt.Errorf("open %s: %w", args[0], err)
		}
		b, err := storage.NewLocal(args[1])
		if err != nil {
			return fmt.Errorf("open %s: %w", args[1], err)
		}

		staleAfter := syncStaleAfter
		if staleAfter <= 0 {
			staleAfter = writelock.DefaultStaleAfter
		}

		report, err := syncpkg.Sync(ctx, a, b, time.Now, syncpkg.Options{
			StaleAfter: staleAfter,
			Progress:   func(msg string) { fmt.Println(msg) },
		})
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}

		if report.ShortCircuited {
			fmt.Println("already in sync: files tree roots match")
			return nil
		}
		fmt.Printf("a->b: %d records updated, %d deleted, %d files copied, %d pruned\n",
			report.AtoB.RecordsUpdated, report.AtoB.RecordsDeleted, report.AtoB.FilesCopied, report.AtoB.FilesPruned)
		fmt.Printf("b->a: %d records updated, %d deleted, %d files copied, %d pruned\n",
			report.BtoA.RecordsUpdated, report.BtoA.RecordsDeleted, report.BtoA.FilesCopied, report.BtoA.FilesPruned)
		return nil
	},
}

func init() {
	syncCmd.Flags().DurationVar(&syncStaleAfter, "stale-after", writelock.DefaultStaleAfter, "write-lock staleness threshold")
}
