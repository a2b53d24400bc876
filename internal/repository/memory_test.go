package repository

import (
	"context"
	"testing"
	"time"

	"ridesched/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	locker := NewMemoryLocker(func() time.Time { return now })
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "queue", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "queue", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	_, err = locker.Acquire(ctx, "other", time.Minute)
	assert.NoError(t, err)

	require.NoError(t, release.Release(ctx))
	release, err = locker.Acquire(ctx, "queue", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	second, err := locker.Acquire(ctx, "queue", time.Minute)
	require.NoError(t, err, "expired lock should be reclaimable")

	// Releasing the expired handle leaves the new holder in place.
	require.NoError(t, release.Release(ctx))
	_, err = locker.Acquire(ctx, "queue", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)
	require.NoError(t, second.Release(ctx))
}

func TestMemoryLocker_Extend(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	locker := NewMemoryLocker(func() time.Time { return now })
	ctx := context.Background()

	t.Run("KeepsLeaseAlive", func(t *testing.T) {
		lease, err := locker.Acquire(ctx, "queue", time.Minute)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			now = now.Add(40 * time.Second)
			require.NoError(t, lease.Extend(ctx, time.Minute))
		}
		_, err = locker.Acquire(ctx, "queue", time.Minute)
		assert.ErrorIs(t, err, ErrLockHeld)
		require.NoError(t, lease.Release(ctx))
	})

	t.Run("ExpiredLeaseIsLost", func(t *testing.T) {
		lease, err := locker.Acquire(ctx, "queue", time.Minute)
		require.NoError(t, err)

		now = now.Add(2 * time.Minute)
		assert.ErrorIs(t, lease.Extend(ctx, time.Minute), ErrLockLost)
	})

	t.Run("TakenOverLeaseIsLost", func(t *testing.T) {
		stale, err := locker.Acquire(ctx, "other", time.Minute)
		require.NoError(t, err)
		now = now.Add(2 * time.Minute)

		fresh, err := locker.Acquire(ctx, "other", time.Minute)
		require.NoError(t, err)
		assert.ErrorIs(t, stale.Extend(ctx, time.Minute), ErrLockLost)
		assert.NoError(t, fresh.Extend(ctx, time.Minute))
	})
}

func TestMemoryDeadLetters(t *testing.T) {
	store := NewMemoryDeadLetters()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Push(ctx, models.QueueItem{ID: id}))
	}

	items, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "c", items[0].ID)

	items, err = store.List(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, []string{items[0].ID, items[1].ID})
}
