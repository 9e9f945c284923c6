package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mediavault/engine/internal/bsondb"
	"github.com/mediavault/engine/internal/bsondb/gravitonshadow"
	"github.com/mediavault/engine/internal/storage"
)

var (
	inspectRecord bool
	inspectAt     uint64
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <database-root>",
	Short: "Print the database's current Merkle root, or record/recall a historical one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		root := args[0]

		st, err := storage.NewLocal(root)
		if err != nil {
			return fmt.Errorf("open database root: %w", err)
		}
		db, err := bsondb.Open(ctx, st)
		if err != nil {
			return fmt.Errorf("open bson database: %w", err)
		}

		shadow, err := gravitonshadow.Open(filepath.Join(root, ".db", "shadow"))
		if err != nil {
			return fmt.Errorf("open snapshot shadow: %w", err)
		}
		defer shadow.Close()

		if inspectAt > 0 {
			rootHash, ok, err := shadow.RootAt(inspectAt)
			if err != nil {
				return fmt.Errorf("load snapshot %d: %w", inspectAt, err)
			}
			if !ok {
				return fmt.Errorf("no recorded root at snapshot %d", inspectAt)
			}
			fmt.Printf("snapshot %d: %x\n", inspectAt, rootHash)
			return nil
		}

		rootHash, err := db.RootHash(ctx)
		if err != nil {
			return fmt.Errorf("compute root hash: %w", err)
		}
		fmt.Printf("current root: %x\n", rootHash)

		if inspectRecord {
			version, err := shadow.RecordRoot(rootHash)
			if err != nil {
				return fmt.Errorf("record snapshot: %w", err)
			}
			fmt.Printf("recorded as snapshot %d\n", version)
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectRecord, "record", false, "record the current root hash as a new snapshot")
	inspectCmd.Flags().Uint64Var(&inspectAt, "at", 0, "print the root hash recorded at this snapshot version instead of the current one")
}
