package configdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"
)

var fastBackoff = wait.Backoff{Steps: 5, Duration: time.Millisecond, Factor: 1}

func TestClient_TransactRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	conflicts := 0
	client := NewClient(backend, WithBackoff(fastBackoff), WithConflictHook(func() { conflicts++ }))

	attempts := 0
	txn, err := client.Transact(ctx, func(ctx context.Context, txn *Txn) error {
		attempts++
		ids, err := txn.ListProcessingBlocks(ctx)
		if err != nil {
			return err
		}
		if attempts == 1 {
			// A concurrent writer sneaks in between read and commit.
			put(t, backend, "/pb/pb-other", `{"id":"pb-other"}`)
		}
		for _, id := range ids {
			if err := txn.CreateProcessingBlockState(ctx, id, &ProcessingBlockState{Status: StatusStarting}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, conflicts)

	check := newTestTxn(t, backend)
	state, err := check.GetProcessingBlockState(ctx, "pb-other")
	require.NoError(t, err)
	require.NotNil(t, state, "the retried attempt must see the concurrent write")
}

func TestClient_TransactGivesUpAfterBackoff(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	client := NewClient(backend, WithBackoff(wait.Backoff{Steps: 3, Duration: time.Millisecond, Factor: 1}))

	attempts := 0
	_, err := client.Transact(ctx, func(ctx context.Context, txn *Txn) error {
		attempts++
		if _, err := txn.ListProcessingBlocks(ctx); err != nil {
			return err
		}
		put(t, backend, "/pb/pb-race", "{}")
		return txn.CreateProcessingBlockState(ctx, "pb-race", &ProcessingBlockState{Status: StatusStarting})
	})
	assert.True(t, IsConflict(err), "got %v", err)
	assert.Equal(t, 3, attempts)
}

func TestClient_TransactDoesNotRetryOtherErrors(t *testing.T) {
	client := NewClient(NewMemoryBackend(), WithBackoff(fastBackoff))
	boom := errors.New("boom")

	attempts := 0
	_, err := client.Transact(context.Background(), func(ctx context.Context, txn *Txn) error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestClient_TransactHonoursCancellation(t *testing.T) {
	client := NewClient(NewMemoryBackend())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := client.Transact(ctx, func(ctx context.Context, txn *Txn) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
