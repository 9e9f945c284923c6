package storage

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, st.Write(ctx, "asset/1", "application/octet-stream", []byte("payload")))

	data, err := st.Read(ctx, "asset/1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	exists, err := st.FileExists(ctx, "asset/1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalReadMissingReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	st, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = st.Read(ctx, "asset/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalWriteStreamThenReadStream(t *testing.T) {
	ctx := context.Background()
	st, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	src := &repeatReader{data: []byte("streamed bytes")}
	require.NoError(t, st.WriteStream(ctx, "asset/2", "text/plain", src))

	r, err := st.ReadStream(ctx, "asset/2")
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "streamed bytes", string(got))
}

func TestLocalDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.Delete(ctx, "asset/never-existed"))
}

func TestLocalListReturnsSlashPaths(t *testing.T) {
	ctx := context.Background()
	st, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, st.Write(ctx, "asset/a", "application/octet-stream", []byte("a")))
	require.NoError(t, st.Write(ctx, "asset/b", "application/octet-stream", []byte("b")))

	names, err := st.List(ctx, "asset")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"asset/a", "asset/b"}, names)
}

type repeatReader struct {
	data []byte
	pos  int
}

func (r *repeatReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
