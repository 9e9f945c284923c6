package repair_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/engine/internal/filesdb"
	"github.com/mediavault/engine/internal/merkle"
	"github.com/mediavault/engine/internal/repair"
	"github.com/mediavault/engine/internal/storage"
)

func newLocal(t *testing.T) storage.Storage {
	t.Helper()
	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	return st
}

func TestRepair_RestoresCorruptFileFromSource(t *testing.T) {
	ctx := context.Background()
	source := newLocal(t)
	local := newLocal(t)

	body := []byte("the quick brown fox")
	h := merkle.HashBytes(body)

	srcFiles, err := filesdb.Create(ctx, source, false)
	require.NoError(t, err)
	require.NoError(t, source.Write(ctx, "asset/1", "application/octet-stream", body))
	require.NoError(t, srcFiles.AddLeaf(ctx, "asset/1", h, int64(len(body)), time.Now()))

	localFiles, err := filesdb.Create(ctx, local, false)
	require.NoError(t, err)
	require.NoError(t, local.Write(ctx, "asset/1", "application/octet-stream", body))
	require.NoError(t, localFiles.AddLeaf(ctx, "asset/1", h, int64(len(body)), time.Now()))

	// Corrupt the local copy in place.
	corrupted := append([]byte(nil), body...)
	corrupted[0] ^= 0xFF
	require.NoError(t, local.Write(ctx, "asset/1", "application/octet-stream", corrupted))

	report, err := repair.Repair(ctx, local, repair.Options{Full: true, Source: source})
	require.NoError(t, err)
	assert.Contains(t, report.Repaired, "asset/1")
	assert.Empty(t, report.Unrepaired)

	data, err := local.Read(ctx, "asset/1")
	require.NoError(t, err)
	assert.Equal(t, merkle.HashBytes(data), h, "repaired content must hash to the original leaf's contentHash")
}

func TestRepair_ReportsUnrepairedWhenNoSourceProvided(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)

	body := []byte("only copy")
	h := merkle.HashBytes(body)
	localFiles, err := filesdb.Create(ctx, local, false)
	require.NoError(t, err)
	require.NoError(t, local.Write(ctx, "asset/2", "application/octet-stream", body))
	require.NoError(t, localFiles.AddLeaf(ctx, "asset/2", h, int64(len(body)), time.Now()))

	require.NoError(t, local.Delete(ctx, "asset/2"))

	report, err := repair.Repair(ctx, local, repair.Options{Full: true})
	require.NoError(t, err)
	assert.Contains(t, report.Unrepaired, "asset/2")
	assert.Empty(t, report.Repaired)
}

func TestRepair_DiscoversUntrackedFiles(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)

	_, err := filesdb.Create(ctx, local, false)
	require.NoError(t, err)
	require.NoError(t, local.Write(ctx, "asset/orphan", "application/octet-stream", []byte("untracked")))

	report, err := repair.Repair(ctx, local, repair.Options{})
	require.NoError(t, err)
	assert.Contains(t, report.New, "asset/orphan")

	files, ok, err := filesdb.Load(ctx, local)
	require.NoError(t, err)
	require.True(t, ok)
	_, found := files.Find("asset/orphan")
	assert.True(t, found, "discovered file must be added as a tracked leaf")
}
