package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mediavault/engine/internal/engine/stub"
	"github.com/mediavault/engine/internal/hashcache"
	"github.com/mediavault/engine/internal/mediadb"
	"github.com/mediavault/engine/internal/obs/logging"
	"github.com/mediavault/engine/internal/shard"
	"github.com/mediavault/engine/internal/storage"
)

var (
	importBucketCount int
	importCapacity    int
	importNoCache     bool
)

var importCmd = &cobra.Command{
	Use:   "import <database-root> <file>...",
	Short: "Import one or more files into the asset database",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		root, paths := args[0], args[1:]

		st, err := storage.NewLocal(root)
		if err != nil {
			return fmt.Errorf("open database root: %w", err)
		}

		col := mediadb.Collaborators{
			UUIDs:       stub.UuidGenerator{},
			Clock:       stub.TimestampProvider{},
			Tooling:     stub.MediaTooling{},
			Validator:   stub.Validator{},
			Thumbnailer: stub.Thumbnailer{},
			Progress:    func(msg string) { logging.Infof("%s", msg) },
		}
		if !importNoCache {
			if err := os.MkdirAll(filepath.Join(root, ".db"), 0o755); err != nil {
				return fmt.Errorf("create database directory: %w", err)
			}
			cache, err := hashcache.Open(filepath.Join(root, ".db", "hashcache"))
			if err != nil {
				return fmt.Errorf("open hash cache: %w", err)
			}
			defer cache.Close()
			col.Cache = cache
		}

		db, err := mediadb.Open(ctx, st, col, importBucketCount, importCapacity)
		if err != nil {
			return fmt.Errorf("open media database: %w", err)
		}

		for _, path := range paths {
			if err := importOne(ctx, db, path); err != nil {
				return fmt.Errorf("import %s: %w", path, err)
			}
		}
		return nil
	},
}

func importOne(ctx context.Context, db *mediadb.MediaDB, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	open := mediadb.Opener(func(ctx context.Context) (io.ReadCloser, error) {
		return os.Open(path)
	})
	result, err := db.AddFile(ctx, path, fi.Size(), fi.ModTime(), "", open)
	if err != nil {
		return err
	}
	if result.Deduped {
		fmt.Printf("%s: already imported as %s\n", path, result.RecordID)
	} else {
		fmt.Printf("%s: imported as %s\n", path, result.RecordID)
	}
	return nil
}

func init() {
	importCmd.Flags().IntVar(&importBucketCount, "bucket-count", shard.DefaultBucketCount, "shard bucket count for new collections")
	importCmd.Flags().IntVar(&importCapacity, "capacity", shard.DefaultCapacity, "record capacity per shard")
	importCmd.Flags().BoolVar(&importNoCache, "no-cache", false, "skip the local hash cache")
}
