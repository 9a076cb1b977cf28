package configdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func put(t *testing.T, backend Backend, key, value string) {
	t.Helper()
	snap, err := backend.Snapshot(context.Background())
	require.NoError(t, err)
	require.NoError(t, snap.Commit(context.Background(), []Op{{Key: key, Value: []byte(value)}}))
}

func TestMemoryBackend_ConflictOnReadKey(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	put(t, backend, "/pb/a", "1")

	snap, err := backend.Snapshot(ctx)
	require.NoError(t, err)
	v, found, err := snap.Get(ctx, "/pb/a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1", string(v))

	put(t, backend, "/pb/a", "2")

	err = snap.Commit(ctx, []Op{{Key: "/deploy/x", Value: []byte("{}")}})
	assert.ErrorIs(t, err, ErrConflict)

	// Nothing from the failed commit is applied.
	check, err := backend.Snapshot(ctx)
	require.NoError(t, err)
	_, found, err = check.Get(ctx, "/deploy/x")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryBackend_ConflictOnListedPrefix(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	snap, err := backend.Snapshot(ctx)
	require.NoError(t, err)
	keys, err := snap.List(ctx, "/pb/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	put(t, backend, "/pb/new", "{}")

	err = snap.Commit(ctx, []Op{{Key: "/deploy/x", Value: []byte("{}")}})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryBackend_UnrelatedWriteDoesNotConflict(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	snap, err := backend.Snapshot(ctx)
	require.NoError(t, err)
	_, err = snap.List(ctx, "/pb/")
	require.NoError(t, err)

	put(t, backend, "/other/key", "x")

	assert.NoError(t, snap.Commit(ctx, []Op{{Key: "/deploy/x", Value: []byte("{}")}}))
}

func TestMemoryBackend_SnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	put(t, backend, "/pb/a", "1")

	snap, err := backend.Snapshot(ctx)
	require.NoError(t, err)
	put(t, backend, "/pb/a", "2")

	v, _, err := snap.Get(ctx, "/pb/a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))
}

func TestMemoryBackend_WaitWakesOnChange(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	snap, err := backend.Snapshot(ctx)
	require.NoError(t, err)
	_, err = snap.List(ctx, "/pb/")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		put(t, backend, "/pb/b", "{}")
	}()

	changed, err := snap.Wait(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestMemoryBackend_WaitIgnoresUnrelatedChange(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	snap, err := backend.Snapshot(ctx)
	require.NoError(t, err)
	_, err = snap.List(ctx, "/pb/")
	require.NoError(t, err)

	put(t, backend, "/other", "x")

	changed, err := snap.Wait(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMemoryBackend_WaitAfterCommitIgnoresOwnWrites(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	snap, err := backend.Snapshot(ctx)
	require.NoError(t, err)
	_, err = snap.List(ctx, "/pb/")
	require.NoError(t, err)
	require.NoError(t, snap.Commit(ctx, []Op{{Key: "/pb/a", Value: []byte("{}")}}))

	changed, err := snap.Wait(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMemoryBackend_WaitZeroTimeoutReturnsImmediately(t *testing.T) {
	backend := NewMemoryBackend()
	snap, err := backend.Snapshot(context.Background())
	require.NoError(t, err)

	start := time.Now()
	changed, err := snap.Wait(context.Background(), -time.Second)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMemoryBackend_WaitCancelled(t *testing.T) {
	backend := NewMemoryBackend()
	snap, err := backend.Snapshot(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = snap.Wait(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
