// Package replicate implements one-way replication: copy missing/changed
// files by Merkle diff, prune destination extras, then walk the document
// tree-of-trees and upsert/delete differing records.
//
// Grounded structurally on the teacher's lib/sync package's
// acquire-exchange-reconcile shape (adapted here to a one-way Merkle diff
// rather than negentropy range reconciliation), with retries via
// github.com/cenkalti/backoff/v4.
package replicate

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mediavault/engine/internal/bsondb"
	"github.com/mediavault/engine/internal/collection"
	"github.com/mediavault/engine/internal/engineerr"
	"github.com/mediavault/engine/internal/filesdb"
	"github.com/mediavault/engine/internal/merkle"
	"github.com/mediavault/engine/internal/retry"
	"github.com/mediavault/engine/internal/shard"
	"github.com/mediavault/engine/internal/storage"
)

// copyWorkers bounds how many files replicateFiles copies concurrently —
// copyAndVerify touches only independent, content-addressed paths, so
// fanning it out is safe; the shared dstFiles tree mutation is the only
// part that needs serializing.
const copyWorkers = 8

// Options configures a replication run.
type Options struct {
	// Force allows replicating into a destination whose files-tree ID
	// doesn't match the source's (normally a Fatal mismatch).
	Force bool
	// Partial restricts file copies to root-level files and files under
	// the thumbnail prefix ("partial mode").
	Partial bool
	// PathFilter, if non-empty, restricts file copies to this prefix:
	// name == filter || name.startsWith(filter + "/").
	PathFilter string
	// Progress receives human-readable status lines during the walk.
	Progress func(msg string)
	// FlushEvery, when > 0, adds an explicit save of the destination files
	// tree after every FlushEvery copied files, in addition to the final
	// flush. The tree's UpsertLeaf and PruneLeaf already persist it on every
	// change, so the tree is saved after each change whatever this is set to.
	FlushEvery int
}

// Report summarizes what a replication run did.
type Report struct {
	FilesCopied    int
	FilesPruned    int
	RecordsUpdated int
	RecordsDeleted int
}

func (o Options) progress(msg string) {
	if o.Progress != nil {
		o.Progress(msg)
	}
}

func (o Options) pathAllowed(name string) bool {
	if o.PathFilter != "" {
		if name != o.PathFilter && !strings.HasPrefix(name, o.PathFilter+"/") {
			return false
		}
	}
	if o.Partial {
		if strings.Contains(name, "/") && !strings.HasPrefix(name, "thumb/") {
			return false
		}
	}
	return true
}

// Replicate copies files + records from src to dst.
func Replicate(ctx context.Context, src, dst storage.Storage, opts Options) (*Report, error) {
	report := &Report{}

	srcFiles, ok, err := filesdb.Load(ctx, src)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, engineerr.New(engineerr.KindFatal, "replicate.Replicate", "source", fmt.Errorf("source has no files tree"))
	}

	dstFiles, created, err := filesdb.OrCreate(ctx, dst, srcFiles.Meta.IsPartial)
	if err != nil {
		return nil, err
	}
	if !created && dstFiles.Meta.ID != srcFiles.Meta.ID && !opts.Force {
		return nil, engineerr.New(engineerr.KindFatal, "replicate.Replicate", dstFiles.Meta.ID,
			fmt.Errorf("destination database identity %s does not match source %s (use force to override)", dstFiles.Meta.ID, srcFiles.Meta.ID))
	}
	if created {
		dstFiles.Meta.ID = srcFiles.Meta.ID
	}

	if err := replicateFiles(ctx, src, dst, srcFiles, dstFiles, opts, report); err != nil {
		return nil, err
	}
	if err := dstFiles.Save(ctx); err != nil {
		return nil, err
	}

	if err := replicateRecords(ctx, src, dst, opts, report); err != nil {
		return nil, err
	}
	return report, nil
}

func replicateFiles(ctx context.Context, src, dst storage.Storage, srcFiles, dstFiles *filesdb.FilesDB, opts Options, report *Report) error {
	diff := merkle.FindDifferences(srcFiles.Tree.Root, dstFiles.Tree.Root)

	srcOnly := map[string]*merkle.Node{}
	for _, n := range diff.OnlyInA {
		srcOnly[n.Name] = n
	}
	dstOnly := map[string]*merkle.Node{}
	for _, n := range diff.OnlyInB {
		dstOnly[n.Name] = n
	}

	var mu sync.Mutex
	changed := 0
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(copyWorkers)

	for name, leaf := range srcOnly {
		name, leaf := name, leaf
		if !opts.pathAllowed(name) {
			continue
		}
		if existing, ok := dstFiles.Find(name); ok && existing.Hash == leaf.Hash {
			continue
		}
		group.Go(func() error {
			if err := copyAndVerify(groupCtx, src, dst, name, leaf.Hash); err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if err := dstFiles.UpsertLeaf(groupCtx, name, leaf.Hash, leaf.Size, leaf.LastModified); err != nil {
				return err
			}
			report.FilesCopied++
			changed++
			opts.progress(fmt.Sprintf("copied %s", name))
			if opts.FlushEvery > 0 && changed%opts.FlushEvery == 0 {
				if err := dstFiles.Save(groupCtx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for name := range dstOnly {
		if _, stillInSource := srcOnly[name]; stillInSource {
			continue
		}
		if !opts.pathAllowed(name) {
			continue
		}
		if err := dst.Delete(ctx, name); err != nil {
			return engineerr.New(engineerr.KindTransient, "replicate.replicateFiles", name, err)
		}
		if err := dstFiles.PruneLeaf(ctx, name); err != nil {
			return err
		}
		report.FilesPruned++
		opts.progress(fmt.Sprintf("pruned %s", name))
	}
	return nil
}

// copyAndVerify streams name from src to dst, then re-hashes the bytes as
// read back from dst and confirms they match wantHash — a mismatch aborts
// replication.
func copyAndVerify(ctx context.Context, src, dst storage.Storage, name string, wantHash merkle.Hash) error {
	var data []byte
	err := retry.Do(ctx, retry.Default, func() error {
		r, err := src.ReadStream(ctx, name)
		if err != nil {
			return err
		}
		defer r.Close()
		buf := &bytes.Buffer{}
		if _, err := buf.ReadFrom(r); err != nil {
			return err
		}
		data = buf.Bytes()
		return nil
	})
	if err != nil {
		return engineerr.New(engineerr.KindTransient, "replicate.copyAndVerify", name, fmt.Errorf("read source: %w", err))
	}

	info, _ := src.Info(ctx, name)
	contentType := ""
	if info != nil {
		contentType = info.ContentType
	}
	err = retry.Do(ctx, retry.Default, func() error {
		return dst.Write(ctx, name, contentType, data)
	})
	if err != nil {
		return engineerr.New(engineerr.KindTransient, "replicate.copyAndVerify", name, fmt.Errorf("write destination: %w", err))
	}

	written, err := dst.Read(ctx, name)
	if err != nil {
		return engineerr.New(engineerr.KindTransient, "replicate.copyAndVerify", name, fmt.Errorf("read back destination: %w", err))
	}
	got := merkle.HashBytes(written)
	if got != wantHash {
		return engineerr.New(engineerr.KindFatal, "replicate.copyAndVerify", name,
			fmt.Errorf("hash mismatch after copy: want %x, got %x", wantHash, got))
	}
	return nil
}

// replicateRecords walks the document side's tree-of-trees (database ->
// collection -> shard -> record) and upserts/deletes only the differing
// leaves at each level.
func replicateRecords(ctx context.Context, src, dst storage.Storage, opts Options, report *Report) error {
	srcDB, err := bsondb.Open(ctx, src)
	if err != nil {
		return err
	}
	dstDB, err := bsondb.Open(ctx, dst)
	if err != nil {
		return err
	}

	srcTree, err := srcDB.LoadDatabaseMerkleTree(ctx)
	if err != nil {
		return err
	}
	dstTree, err := dstDB.LoadDatabaseMerkleTree(ctx)
	if err != nil {
		return err
	}
	diff := merkle.FindDifferences(srcTree.Root, dstTree.Root)

	changedCollections := map[string]bool{}
	for _, n := range diff.OnlyInA {
		changedCollections[n.Name] = true
	}

	for name := range changedCollections {
		srcColl, err := srcDB.Collection(ctx, name)
		if err != nil {
			return err
		}
		dstColl, err := dstDB.Collection(ctx, name)
		if err != nil {
			if k, ok := engineerr.KindOf(err); !ok || k != engineerr.KindNotFound {
				return err
			}
			dstColl, err = dstDB.CreateCollection(ctx, name, srcColl.BucketCount(), shard.DefaultCapacity)
			if err != nil {
				return err
			}
		}
		if err := replicateCollectionRecords(ctx, src, dst, name, srcColl, dstColl, opts, report); err != nil {
			return err
		}
	}
	return dstDB.RebuildDatabaseMerkle(ctx)
}

func replicateCollectionRecords(ctx context.Context, src, dst storage.Storage, collName string, srcColl, dstColl *collection.Collection, opts Options, report *Report) error {
	srcShardTree, err := srcColl.LoadCollectionMerkleTree(ctx)
	if err != nil {
		return err
	}
	dstShardTree, err := dstColl.LoadCollectionMerkleTree(ctx)
	if err != nil {
		return err
	}
	shardDiff := merkle.FindDifferences(srcShardTree.Root, dstShardTree.Root)

	// Shard names are the bucket's deterministic identity (shard.IDForBucket),
	// so the same bucket always carries the same leaf name on every replica.
	// A bucket whose content merely differs shows up by name on both sides
	// (OnlyInA and OnlyInB), which is why extraShards excludes anything
	// already in changedShards: only buckets genuinely absent from the
	// source are true deletion candidates.
	changedShards := map[string]bool{}
	for _, n := range shardDiff.OnlyInA {
		changedShards[n.Name] = true
	}
	extraShards := map[string]bool{}
	for _, n := range shardDiff.OnlyInB {
		if !changedShards[n.Name] {
			extraShards[n.Name] = true
		}
	}

	for shardID := range changedShards {
		srcRecTree, err := srcColl.LoadShardMerkleTree(ctx, shardID)
		if err != nil {
			return err
		}
		dstRecTree, err := dstColl.LoadShardMerkleTree(ctx, shardID)
		if err != nil {
			return err
		}
		recDiff := merkle.FindDifferences(srcRecTree.Root, dstRecTree.Root)

		srcShard, err := shard.Load(ctx, src, collName, shardID)
		if err != nil {
			return err
		}
		for _, n := range recDiff.OnlyInA {
			rec, ok := srcShard.Records[n.Name]
			if !ok {
				continue
			}
			if err := dstColl.SetInternalRecord(ctx, rec.Clone()); err != nil {
				return err
			}
			report.RecordsUpdated++
		}
	}

	for shardID := range extraShards {
		dstShard, err := shard.Load(ctx, dst, collName, shardID)
		if err != nil {
			if k, ok := engineerr.KindOf(err); ok && k == engineerr.KindNotFound {
				continue
			}
			return err
		}
		for recordID := range dstShard.Records {
			if err := dstColl.DeleteOne(ctx, recordID); err != nil {
				return err
			}
			report.RecordsDeleted++
		}
	}
	return nil
}
