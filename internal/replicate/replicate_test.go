package replicate_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/engine/internal/bsondb"
	"github.com/mediavault/engine/internal/collection"
	"github.com/mediavault/engine/internal/filesdb"
	"github.com/mediavault/engine/internal/merkle"
	"github.com/mediavault/engine/internal/replicate"
	"github.com/mediavault/engine/internal/shard"
	"github.com/mediavault/engine/internal/storage"
)

func newLocal(t *testing.T) storage.Storage {
	t.Helper()
	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	return st
}

func TestReplicate_CopiesFilesAndPrunesDestinationExtras(t *testing.T) {
	ctx := context.Background()
	src := newLocal(t)
	dst := newLocal(t)

	srcFiles, err := filesdb.Create(ctx, src, false)
	require.NoError(t, err)

	assetBody := []byte("hello world")
	require.NoError(t, src.Write(ctx, "asset/keep", "application/octet-stream", assetBody))
	require.NoError(t, srcFiles.AddLeaf(ctx, "asset/keep", merkle.HashBytes(assetBody), int64(len(assetBody)), time.Now()))

	dstFiles, err := filesdb.Create(ctx, dst, false)
	require.NoError(t, err)
	staleBody := []byte("stale leftover")
	require.NoError(t, dst.Write(ctx, "asset/stale", "application/octet-stream", staleBody))
	require.NoError(t, dstFiles.AddLeaf(ctx, "asset/stale", merkle.HashBytes(staleBody), int64(len(staleBody)), time.Now()))

	report, err := replicate.Replicate(ctx, src, dst, replicate.Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesCopied)
	assert.Equal(t, 1, report.FilesPruned)

	data, err := dst.Read(ctx, "asset/keep")
	require.NoError(t, err)
	assert.Equal(t, assetBody, data)

	exists, err := dst.FileExists(ctx, "asset/stale")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReplicate_UpsertsAndDeletesRecords(t *testing.T) {
	ctx := context.Background()
	src := newLocal(t)
	dst := newLocal(t)

	_, err := filesdb.Create(ctx, src, false)
	require.NoError(t, err)
	_, err = filesdb.Create(ctx, dst, false)
	require.NoError(t, err)

	srcDB, err := bsondb.Open(ctx, src)
	require.NoError(t, err)
	srcColl, err := srcDB.CreateCollection(ctx, "assets", shard.DefaultBucketCount, shard.DefaultCapacity)
	require.NoError(t, err)

	keptID := uuid.NewString()
	now := time.Now()
	_, err = srcColl.UpdateOne(ctx, keptID, collection.Fields{"name": "kept"}, now)
	require.NoError(t, err)
	require.NoError(t, srcDB.RebuildDatabaseMerkle(ctx))

	dstDB, err := bsondb.Open(ctx, dst)
	require.NoError(t, err)
	dstColl, err := dstDB.CreateCollection(ctx, "assets", shard.DefaultBucketCount, shard.DefaultCapacity)
	require.NoError(t, err)
	removedID := uuid.NewString()
	_, err = dstColl.UpdateOne(ctx, removedID, collection.Fields{"name": "should-be-removed"}, now)
	require.NoError(t, err)
	require.NoError(t, dstDB.RebuildDatabaseMerkle(ctx))

	report, err := replicate.Replicate(ctx, src, dst, replicate.Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.RecordsUpdated)
	assert.Equal(t, 1, report.RecordsDeleted)

	freshDst, err := bsondb.Open(ctx, dst)
	require.NoError(t, err)
	freshColl, err := freshDst.Collection(ctx, "assets")
	require.NoError(t, err)

	rec, err := freshColl.GetOne(ctx, keptID)
	require.NoError(t, err)
	v, _ := rec.GetField("name")
	assert.Equal(t, "kept", v)

	_, err = freshColl.GetOne(ctx, removedID)
	assert.Error(t, err, "record only present on destination must be pruned by replicate")
}

// TestReplicate_SameBucketMergePreservesDestinationRecords forces every
// record into bucket 0 (bucketCount=1) so the source's changed shard and
// the destination's pre-existing shard share one name. Before shard IDs
// became deterministic, that shared name was reachable only by accident;
// this test pins down that a legitimate destination-only record sharing a
// bucket with a source-changed record survives replication.
func TestReplicate_SameBucketMergePreservesDestinationRecords(t *testing.T) {
	ctx := context.Background()
	src := newLocal(t)
	dst := newLocal(t)

	_, err := filesdb.Create(ctx, src, false)
	require.NoError(t, err)
	_, err = filesdb.Create(ctx, dst, false)
	require.NoError(t, err)

	srcDB, err := bsondb.Open(ctx, src)
	require.NoError(t, err)
	srcColl, err := srcDB.CreateCollection(ctx, "assets", 1, shard.DefaultCapacity)
	require.NoError(t, err)

	now := time.Now()
	srcOnlyID := uuid.NewString()
	_, err = srcColl.UpdateOne(ctx, srcOnlyID, collection.Fields{"name": "from-source"}, now)
	require.NoError(t, err)
	require.NoError(t, srcDB.RebuildDatabaseMerkle(ctx))

	dstDB, err := bsondb.Open(ctx, dst)
	require.NoError(t, err)
	dstColl, err := dstDB.CreateCollection(ctx, "assets", 1, shard.DefaultCapacity)
	require.NoError(t, err)
	dstOnlyID := uuid.NewString()
	_, err = dstColl.UpdateOne(ctx, dstOnlyID, collection.Fields{"name": "destination-only"}, now)
	require.NoError(t, err)
	require.NoError(t, dstDB.RebuildDatabaseMerkle(ctx))

	_, err = replicate.Replicate(ctx, src, dst, replicate.Options{Force: true})
	require.NoError(t, err)

	freshDst, err := bsondb.Open(ctx, dst)
	require.NoError(t, err)
	freshColl, err := freshDst.Collection(ctx, "assets")
	require.NoError(t, err)

	rec, err := freshColl.GetOne(ctx, srcOnlyID)
	require.NoError(t, err)
	v, _ := rec.GetField("name")
	assert.Equal(t, "from-source", v)

	rec, err = freshColl.GetOne(ctx, dstOnlyID)
	require.NoError(t, err, "destination record sharing a bucket with a source-changed record must survive replication")
	v, _ = rec.GetField("name")
	assert.Equal(t, "destination-only", v)
}

func TestReplicate_FailsOnIdentityMismatchWithoutForce(t *testing.T) {
	ctx := context.Background()
	src := newLocal(t)
	dst := newLocal(t)

	_, err := filesdb.Create(ctx, src, false)
	require.NoError(t, err)
	_, err = filesdb.Create(ctx, dst, false)
	require.NoError(t, err)

	_, err = replicate.Replicate(ctx, src, dst, replicate.Options{})
	assert.Error(t, err)
}
