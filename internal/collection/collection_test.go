package collection

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/engine/internal/engineerr"
	"github.com/mediavault/engine/internal/storage"
)

func TestUpdateOneThenGetOneRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	c, err := Create(ctx, st, "assets", 4, 10)
	require.NoError(t, err)

	id := uuid.NewString()
	now := time.Now()
	_, err = c.UpdateOne(ctx, id, Fields{"mimeType": "image/png"}, now)
	require.NoError(t, err)

	rec, err := c.GetOne(ctx, id)
	require.NoError(t, err)
	v, ok := rec.GetField("mimeType")
	require.True(t, ok)
	assert.Equal(t, "image/png", v)
}

func TestGetOneMissingRecordReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	c, err := Create(ctx, st, "assets", 4, 10)
	require.NoError(t, err)

	_, err = c.GetOne(ctx, uuid.NewString())
	kind, ok := engineerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, engineerr.KindNotFound, kind)
}

func TestDeleteOneRemovesRecord(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	c, err := Create(ctx, st, "assets", 4, 10)
	require.NoError(t, err)

	id := uuid.NewString()
	_, err = c.UpdateOne(ctx, id, Fields{"mimeType": "image/png"}, time.Now())
	require.NoError(t, err)

	require.NoError(t, c.DeleteOne(ctx, id))

	_, err = c.GetOne(ctx, id)
	assert.Error(t, err)
}

func TestCollectionMerkleRootChangesOnUpdate(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	c, err := Create(ctx, st, "assets", 4, 10)
	require.NoError(t, err)

	before, err := c.LoadCollectionMerkleTree(ctx)
	require.NoError(t, err)

	_, err = c.UpdateOne(ctx, uuid.NewString(), Fields{"mimeType": "image/png"}, time.Now())
	require.NoError(t, err)

	after, err := c.LoadCollectionMerkleTree(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, before.Root, after.Root)
}
