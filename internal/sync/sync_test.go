package sync_test

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
	"github.com/mediavault/engine/internal/shard"
	"github.com/mediavault/engine/internal/storage"
	syncpkg "github.com/mediavault/engine/internal/sync"
)

func newLocal(t *testing.T) storage.Storage {
	t.Helper()
	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	return st
}

func TestSync_ShortCircuitsWhenFilesRootsMatch(t *testing.T) {
	ctx := context.Background()
	a := newLocal(t)
	b := newLocal(t)

	fa, err := filesdb.Create(ctx, a, false)
	require.NoError(t, err)
	fb, err := filesdb.Create(ctx, b, false)
	require.NoError(t, err)
	_ = fa
	_ = fb

	report, err := syncpkg.Sync(ctx, a, b, time.Now, syncpkg.Options{StaleAfter: time.Minute})
	require.NoError(t, err)
	assert.True(t, report.ShortCircuited)
}

func TestSync_MergesDisjointRecordsBothWays(t *testing.T) {
	ctx := context.Background()
	a := newLocal(t)
	b := newLocal(t)

	_, err := filesdb.Create(ctx, a, false)
	require.NoError(t, err)

	dbA, err := bsondb.Open(ctx, a)
	require.NoError(t, err)
	collA, err := dbA.CreateCollection(ctx, "assets", shard.DefaultBucketCount, shard.DefaultCapacity)
	require.NoError(t, err)

	idA := uuid.NewString()
	idB := uuid.NewString()

	now := time.Now()
	_, err = collA.UpdateOne(ctx, idA, collection.Fields{"name": "only-on-a"}, now)
	require.NoError(t, err)
	require.NoError(t, dbA.RebuildDatabaseMerkle(ctx))

	// b starts with its own files tree and its own record, disjoint from a's.
	_, err = filesdb.Create(ctx, b, false)
	require.NoError(t, err)
	dbB, err := bsondb.Open(ctx, b)
	require.NoError(t, err)
	collB, err := dbB.CreateCollection(ctx, "assets", shard.DefaultBucketCount, shard.DefaultCapacity)
	require.NoError(t, err)
	_, err = collB.UpdateOne(ctx, idB, collection.Fields{"name": "only-on-b"}, now)
	require.NoError(t, err)
	require.NoError(t, dbB.RebuildDatabaseMerkle(ctx))

	report, err := syncpkg.Sync(ctx, a, b, time.Now, syncpkg.Options{StaleAfter: time.Minute})
	require.NoError(t, err)
	assert.False(t, report.ShortCircuited)

	// Re-open both sides fresh and confirm each now has both records.
	freshA, err := bsondb.Open(ctx, a)
	require.NoError(t, err)
	cA, err := freshA.Collection(ctx, "assets")
	require.NoError(t, err)
	rec, err := cA.GetOne(ctx, idB)
	require.NoError(t, err)
	v, _ := rec.GetField("name")
	assert.Equal(t, "only-on-b", v)

	freshB, err := bsondb.Open(ctx, b)
	require.NoError(t, err)
	cB, err := freshB.Collection(ctx, "assets")
	require.NoError(t, err)
	rec, err = cB.GetOne(ctx, idA)
	require.NoError(t, err)
	v, _ = rec.GetField("name")
	assert.Equal(t, "only-on-a", v)
}

func TestSync_LastWriteWinsOnConflictingField(t *testing.T) {
	ctx := context.Background()
	a := newLocal(t)
	b := newLocal(t)

	_, err := filesdb.Create(ctx, a, false)
	require.NoError(t, err)
	dbA, err := bsondb.Open(ctx, a)
	require.NoError(t, err)
	collA, err := dbA.CreateCollection(ctx, "assets", shard.DefaultBucketCount, shard.DefaultCapacity)
	require.NoError(t, err)

	id := uuid.NewString()
	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	_, err = collA.UpdateOne(ctx, id, collection.Fields{"name": "stale-from-a"}, older)
	require.NoError(t, err)
	require.NoError(t, dbA.RebuildDatabaseMerkle(ctx))

	_, err = filesdb.Create(ctx, b, false)
	require.NoError(t, err)
	dbB, err := bsondb.Open(ctx, b)
	require.NoError(t, err)
	collB, err := dbB.CreateCollection(ctx, "assets", shard.DefaultBucketCount, shard.DefaultCapacity)
	require.NoError(t, err)
	_, err = collB.UpdateOne(ctx, id, collection.Fields{"name": "fresh-from-b"}, newer)
	require.NoError(t, err)
	require.NoError(t, dbB.RebuildDatabaseMerkle(ctx))

	_, err = syncpkg.Sync(ctx, a, b, time.Now, syncpkg.Options{StaleAfter: time.Minute})
	require.NoError(t, err)

	for _, st := range []storage.Storage{a, b} {
		db, err := bsondb.Open(ctx, st)
		require.NoError(t, err)
		c, err := db.Collection(ctx, "assets")
		require.NoError(t, err)
		rec, err := c.GetOne(ctx, id)
		require.NoError(t, err)
		v, _ := rec.GetField("name")
		assert.Equal(t, "fresh-from-b", v, "newer write must win on both replicas after sync")
	}
}
