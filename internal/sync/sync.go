// Package sync implements bidirectional sync: two halves under opposite
// write-locks, each pushing files and merging records one direction,
// short-circuiting entirely when the files Merkle roots already match.
//
// Grounded structurally (not algorithmically — this is LWW-merge over a
// Merkle diff, not negentropy range reconciliation) on the teacher's
// lib/sync package: a top-level orchestration function in the same
// acquire -> exchange -> reconcile -> release shape as
// InitiateNegentropySync/listenNegentropy.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/mediavault/engine/internal/bsondb"
	"github.com/mediavault/engine/internal/collection"
	"github.com/mediavault/engine/internal/engineerr"
	"github.com/mediavault/engine/internal/filesdb"
	"github.com/mediavault/engine/internal/merkle"
	"github.com/mediavault/engine/internal/replicate"
	"github.com/mediavault/engine/internal/shard"
	"github.com/mediavault/engine/internal/storage"
	"github.com/mediavault/engine/internal/writelock"
)

// Options configures a sync run.
type Options struct {
	StaleAfter time.Duration
	Progress   func(msg string)
}

func (o Options) progress(msg string) {
	if o.Progress != nil {
		o.Progress(msg)
	}
}

// Report summarizes a completed sync.
type Report struct {
	ShortCircuited bool
	AtoB           replicate.Report
	BtoA           replicate.Report
}

// Sync performs a bidirectional merge between endpoints a and b, each
// identified by a storage.Storage. Record conflicts are resolved by
// per-field last-write-wins (shard.MergeRecords); files are reconciled by
// Merkle diff in both directions.
func Sync(ctx context.Context, a, b storage.Storage, now func() time.Time, opts Options) (*Report, error) {
	aFiles, aOK, err := filesdb.Load(ctx, a)
	if err != nil {
		return nil, err
	}
	bFiles, bOK, err := filesdb.Load(ctx, b)
	if err != nil {
		return nil, err
	}
	if aOK && bOK && aFiles.Tree.Root != nil && bFiles.Tree.Root != nil && aFiles.Tree.Root.Hash == bFiles.Tree.Root.Hash {
		opts.progress("files roots already match, short-circuiting")
		return &Report{ShortCircuited: true}, nil
	}

	report := &Report{}

	aSession := writelock.NewSessionID()
	aLock, err := writelock.Acquire(ctx, a, aSession, opts.StaleAfter, now())
	if err != nil {
		return nil, fmt.Errorf("sync: acquire lock on a: %w", err)
	}
	if err := mergeHalf(ctx, a, b, opts, &report.AtoB); err != nil {
		_ = aLock.Release(ctx)
		return nil, err
	}
	if err := aLock.Release(ctx); err != nil {
		return nil, err
	}

	bSession := writelock.NewSessionID()
	bLock, err := writelock.Acquire(ctx, b, bSession, opts.StaleAfter, now())
	if err != nil {
		return nil, fmt.Errorf("sync: acquire lock on b: %w", err)
	}
	if err := mergeHalf(ctx, b, a, opts, &report.BtoA); err != nil {
		_ = bLock.Release(ctx)
		return nil, err
	}
	if err := bLock.Release(ctx); err != nil {
		return nil, err
	}

	return report, nil
}

// mergeHalf pushes files and merges records from src into dst — one half
// of the bidirectional sync. half identifies which Report leg to
// accumulate into.
func mergeHalf(ctx context.Context, src, dst storage.Storage, opts Options, half *replicate.Report) error {
	r, err := replicate.Replicate(ctx, src, dst, replicate.Options{Force: true, Progress: opts.Progress})
	if err != nil {
		return err
	}
	half.FilesCopied += r.FilesCopied
	half.FilesPruned += r.FilesPruned

	return mergeRecords(ctx, src, dst, half)
}

// mergeRecords walks the tree-of-trees and merges (rather than overwrites)
// differing records field-by-field, using shard.MergeRecords's per-field
// last-write-wins rule — the piece that makes sync different from a plain
// one-way replicate.
func mergeRecords(ctx context.Context, src, dst storage.Storage, half *replicate.Report) error {
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

	names := map[string]bool{}
	for _, n := range diff.OnlyInA {
		names[n.Name] = true
	}
	for _, n := range diff.OnlyInB {
		names[n.Name] = true
	}

	for name := range names {
		srcColl, err := srcDB.Collection(ctx, name)
		if err != nil {
			if k, ok := engineerr.KindOf(err); ok && k == engineerr.KindNotFound {
				continue // collection only exists on dst; nothing to merge from src
			}
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
		if err := mergeCollection(ctx, src, name, srcColl, dstColl, half); err != nil {
			return err
		}
	}
	return dstDB.RebuildDatabaseMerkle(ctx)
}

func mergeCollection(ctx context.Context, src storage.Storage, collName string, srcColl, dstColl *collection.Collection, half *replicate.Report) error {
	srcTree, err := srcColl.LoadCollectionMerkleTree(ctx)
	if err != nil {
		return err
	}
	dstTree, err := dstColl.LoadCollectionMerkleTree(ctx)
	if err != nil {
		return err
	}
	diff := merkle.FindDifferences(srcTree.Root, dstTree.Root)

	shardIDs := map[string]bool{}
	for _, n := range diff.OnlyInA {
		shardIDs[n.Name] = true
	}
	for _, n := range diff.OnlyInB {
		shardIDs[n.Name] = true
	}

	for shardID := range shardIDs {
		if err := mergeShard(ctx, src, collName, shardID, srcColl, dstColl, half); err != nil {
			return err
		}
	}
	return nil
}

func mergeShard(ctx context.Context, src storage.Storage, collName, shardID string, srcColl, dstColl *collection.Collection, half *replicate.Report) error {
	srcTree, err := srcColl.LoadShardMerkleTree(ctx, shardID)
	if err != nil {
		return err
	}
	dstTree, err := dstColl.LoadShardMerkleTree(ctx, shardID)
	if err != nil {
		return err
	}
	diff := merkle.FindDifferences(srcTree.Root, dstTree.Root)

	recordIDs := map[string]bool{}
	for _, n := range diff.OnlyInA {
		recordIDs[n.Name] = true
	}
	for _, n := range diff.OnlyInB {
		recordIDs[n.Name] = true
	}
	if len(recordIDs) == 0 {
		return nil
	}

	srcShard, err := shard.Load(ctx, src, collName, shardID)
	if err != nil && !isNotFound(err) {
		return err
	}

	for recordID := range recordIDs {
		var srcRec *shard.Record
		if srcShard != nil {
			srcRec = srcShard.Records[recordID]
		}
		dstRec, err := dstColl.GetOne(ctx, recordID)
		if err != nil && !isNotFound(err) {
			return err
		}

		merged, err := mergeOrKeep(recordID, srcRec, dstRec)
		if err != nil {
			return err
		}
		if merged == nil {
			continue // both sides missing — nothing to merge
		}
		if err := dstColl.SetInternalRecord(ctx, merged); err != nil {
			return err
		}
		half.RecordsUpdated++
	}
	return nil
}

func mergeOrKeep(recordID string, a, b *shard.Record) (*shard.Record, error) {
	switch {
	case a == nil && b == nil:
		return nil, nil
	case a == nil:
		return b.Clone(), nil
	case b == nil:
		return a.Clone(), nil
	default:
		return shard.MergeRecords(a, b)
	}
}

func isNotFound(err error) bool {
	k, ok := engineerr.KindOf(err)
	return ok && k == engineerr.KindNotFound
}
