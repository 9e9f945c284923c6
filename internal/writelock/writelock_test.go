package writelock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavault/engine/internal/engineerr"
	"github.com/mediavault/engine/internal/storage"
)

func TestAcquireThenReleaseAllowsReacquire(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	now := time.Now()
	lock, err := Acquire(ctx, st, NewSessionID(), time.Minute, now)
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx))

	_, err = Acquire(ctx, st, NewSessionID(), time.Minute, now)
	require.NoError(t, err)
}

func TestAcquireFailsWhileFreshLockHeld(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	now := time.Now()
	_, err = Acquire(ctx, st, NewSessionID(), time.Minute, now)
	require.NoError(t, err)

	_, err = Acquire(ctx, st, NewSessionID(), time.Minute, now.Add(time.Second))
	assert.ErrorIs(t, err, engineerr.LockHeld)
}

func TestAcquireTakesOverStaleLock(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	now := time.Now()
	first, err := Acquire(ctx, st, NewSessionID(), time.Minute, now)
	require.NoError(t, err)

	second, err := Acquire(ctx, st, NewSessionID(), time.Minute, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID(), second.SessionID())
}

func TestReleaseIsNoopAfterTakeover(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	now := time.Now()
	first, err := Acquire(ctx, st, NewSessionID(), time.Minute, now)
	require.NoError(t, err)
	_, err = Acquire(ctx, st, NewSessionID(), time.Minute, now.Add(2*time.Minute))
	require.NoError(t, err)

	require.NoError(t, first.Release(ctx))

	_, err = Acquire(ctx, st, NewSessionID(), time.Minute, now.Add(2*time.Minute+time.Second))
	assert.ErrorIs(t, err, engineerr.LockHeld)
}
