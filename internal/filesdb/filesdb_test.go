package filesdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/engine/internal/merkle"
	"github.com/mediavault/engine/internal/storage"
)

func TestCreateThenLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	created, err := Create(ctx, st, false)
	require.NoError(t, err)

	loaded, ok, err := Load(ctx, st)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.Meta.ID, loaded.Meta.ID)
	assert.False(t, loaded.Meta.IsPartial)
}

func TestLoadReturnsFalseWhenNoDatabaseExists(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	_, ok, err := Load(ctx, st)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrCreateCreatesOnlyOnce(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	first, created, err := OrCreate(ctx, st, false)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := OrCreate(ctx, st, false)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Meta.ID, second.Meta.ID)
}

func TestAddLeafThenFindAndPrune(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	f, err := Create(ctx, st, false)
	require.NoError(t, err)

	h := merkle.HashBytes([]byte("hello"))
	require.NoError(t, f.AddLeaf(ctx, "asset/1", h, 5, time.Now()))
	assert.Equal(t, 1, f.Meta.FilesImported)

	leaf, ok := f.Find("asset/1")
	require.True(t, ok)
	assert.Equal(t, h, leaf.ContentHash)

	require.NoError(t, f.PruneLeaf(ctx, "asset/1"))
	_, ok = f.Find("asset/1")
	assert.False(t, ok)
}

func TestUpsertLeafReplacesExistingHash(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	f, err := Create(ctx, st, false)
	require.NoError(t, err)

	h1 := merkle.HashBytes([]byte("v1"))
	require.NoError(t, f.AddLeaf(ctx, "asset/1", h1, 2, time.Now()))

	h2 := merkle.HashBytes([]byte("v2"))
	require.NoError(t, f.UpsertLeaf(ctx, "asset/1", h2, 2, time.Now()))

	leaf, ok := f.Find("asset/1")
	require.True(t, ok)
	assert.Equal(t, h2, leaf.ContentHash)
}
