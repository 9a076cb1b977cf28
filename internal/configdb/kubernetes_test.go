package configdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

func newFakeKubernetesBackend(t *testing.T) (*KubernetesBackend, client.WithWatch) {
	t.Helper()
	c := fake.NewClientBuilder().Build()
	return NewKubernetesBackend(c, "sdp", ""), c
}

func TestEncodeKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"/pb/pb-x-1", ".pb.pb-x-1", false},
		{"/pb/pb-x-1/state", ".pb.pb-x-1.state", false},
		{"/deploy/proc_a.b", ".deploy.proc_ua_db", false},
		{"/pb/with space", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := encodeKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			back, err := decodeKey(got)
			require.NoError(t, err)
			assert.Equal(t, tt.key, back)
		})
	}
}

func TestKubernetesBackend_CreatesConfigMapOnFirstCommit(t *testing.T) {
	ctx := context.Background()
	backend, c := newFakeKubernetesBackend(t)
	client := NewClient(backend)

	_, err := client.Transact(ctx, func(ctx context.Context, txn *Txn) error {
		return txn.CreateProcessingBlock(ctx, testBlock("pb-x-1"))
	})
	require.NoError(t, err)

	var cm corev1.ConfigMap
	require.NoError(t, c.Get(ctx, backend.key(), &cm))
	assert.Contains(t, cm.Data, ".pb.pb-x-1")

	txn := newTestTxn(t, backend)
	ids, err := txn.ListProcessingBlocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pb-x-1"}, ids)
}

func TestKubernetesBackend_StaleCommitConflicts(t *testing.T) {
	ctx := context.Background()
	backend, _ := newFakeKubernetesBackend(t)
	put(t, backend, "/pb/a", "{}")

	stale, err := backend.Snapshot(ctx)
	require.NoError(t, err)
	_, _, err = stale.Get(ctx, "/pb/a")
	require.NoError(t, err)

	put(t, backend, "/pb/b", "{}")

	err = stale.Commit(ctx, []Op{{Key: "/deploy/x", Value: []byte("{}")}})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestKubernetesBackend_ConcurrentCreateConflicts(t *testing.T) {
	ctx := context.Background()
	backend, _ := newFakeKubernetesBackend(t)

	first, err := backend.Snapshot(ctx)
	require.NoError(t, err)
	second, err := backend.Snapshot(ctx)
	require.NoError(t, err)

	require.NoError(t, first.Commit(ctx, []Op{{Key: "/pb/a", Value: []byte("{}")}}))
	err = second.Commit(ctx, []Op{{Key: "/pb/b", Value: []byte("{}")}})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestKubernetesBackend_WaitSeesChangeBeforeWatchStarts(t *testing.T) {
	ctx := context.Background()
	backend, _ := newFakeKubernetesBackend(t)
	put(t, backend, "/pb/a", "{}")

	snap, err := backend.Snapshot(ctx)
	require.NoError(t, err)
	_, err = snap.List(ctx, "/pb/")
	require.NoError(t, err)

	put(t, backend, "/pb/b", "{}")

	changed, err := snap.Wait(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestKubernetesBackend_WaitTimesOutWithoutRelevantChange(t *testing.T) {
	ctx := context.Background()
	backend, _ := newFakeKubernetesBackend(t)
	put(t, backend, "/pb/a", "{}")

	snap, err := backend.Snapshot(ctx)
	require.NoError(t, err)
	_, err = snap.List(ctx, "/pb/")
	require.NoError(t, err)

	put(t, backend, "/other", "x")

	changed, err := snap.Wait(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, changed)
}
