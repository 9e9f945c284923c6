package hashcache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/engine/internal/merkle"
)

func TestStoreThenLookupHitsOnExactStatMatch(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer c.Close()

	h := merkle.HashBytes([]byte("content"))
	require.NoError(t, c.Store("asset/1", 7, 123, h))

	got, found, err := c.Lookup("asset/1", 7, 123)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, h, got)
}

func TestLookupMissesOnStatMismatch(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer c.Close()

	h := merkle.HashBytes([]byte("content"))
	require.NoError(t, c.Store("asset/1", 7, 123, h))

	_, found, err := c.Lookup("asset/1", 7, 456)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer c.Close()

	h := merkle.HashBytes([]byte("content"))
	require.NoError(t, c.Store("asset/1", 7, 123, h))
	require.NoError(t, c.Invalidate("asset/1", 7, 123))

	_, found, err := c.Lookup("asset/1", 7, 123)
	require.NoError(t, err)
	assert.False(t, found)
}
