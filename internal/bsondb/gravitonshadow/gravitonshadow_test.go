package gravitonshadow

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRootThenRootAtRoundTrip(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "shadow"))
	require.NoError(t, err)
	defer s.Close()

	var root [32]byte
	copy(root[:], []byte("deterministic test root hash..."))

	version, err := s.RecordRoot(root)
	require.NoError(t, err)

	got, ok, err := s.RootAt(version)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, root, got)
}

func TestRecordRootTwiceKeepsBothVersionsQueryable(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "shadow"))
	require.NoError(t, err)
	defer s.Close()

	var first, second [32]byte
	copy(first[:], []byte("first-root"))
	copy(second[:], []byte("second-root"))

	v1, err := s.RecordRoot(first)
	require.NoError(t, err)
	v2, err := s.RecordRoot(second)
	require.NoError(t, err)
	require.NotEqual(t, v1, v2)

	got1, ok, err := s.RootAt(v1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, got1)

	got2, ok, err := s.RootAt(v2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second, got2)
}
