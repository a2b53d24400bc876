package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"ridesched/internal/domain"
	"ridesched/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	args := m.Called(ctx, key, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.Lease), args.Error(1)
}

type mockDeadLetters struct {
	mock.Mock
}

func (m *mockDeadLetters) Push(ctx context.Context, item models.QueueItem) error {
	return m.Called(ctx, item).Error(0)
}

func (m *mockDeadLetters) List(ctx context.Context, limit int) ([]models.QueueItem, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.QueueItem), args.Error(1)
}

type stubLease struct{ name string }

func (stubLease) Extend(context.Context, time.Duration) error { return nil }
func (stubLease) Release(context.Context) error { return nil }

func TestFailoverLocker(t *testing.T) {
	primary := new(mockLocker)
	fallback := new(mockLocker)
	logger := zerolog.New(io.Discard)
	locker := NewFailoverLocker(primary, fallback, time.Minute, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Acquire", ctx, "k", time.Minute).Return(stubLease{name: "primary"}, nil).Once()

		lease, err := locker.Acquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, stubLease{name: "primary"}, lease)
		primary.AssertExpectations(t)
	})

	t.Run("HeldLockIsNotAFailure", func(t *testing.T) {
		primary.On("Acquire", ctx, "k", time.Minute).Return(nil, ErrLockHeld).Once()

		_, err := locker.Acquire(ctx, "k", time.Minute)
		assert.ErrorIs(t, err, ErrLockHeld)
		assert.False(t, locker.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Acquire", ctx, "k", time.Minute).Return(nil, errors.New("connection refused")).Once()
		fallback.On("Acquire", ctx, "k", time.Minute).Return(stubLease{name: "fallback"}, nil).Once()

		lease, err := locker.Acquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, stubLease{name: "fallback"}, lease)
		assert.True(t, locker.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackUntilRecheck", func(t *testing.T) {
		fallback.On("Acquire", ctx, "k", time.Minute).Return(stubLease{}, nil).Once()

		_, err := locker.Acquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		locker.isDown.Store(true)
		locker.lastCheck = time.Now().Add(-2 * time.Minute)
		primary.On("Acquire", ctx, "k", time.Minute).Return(stubLease{}, nil).Once()

		_, err := locker.Acquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.False(t, locker.isDown.Load())
		primary.AssertExpectations(t)
	})
}

func TestFailoverDeadLetters(t *testing.T) {
	primary := new(mockDeadLetters)
	fallback := NewMemoryDeadLetters()
	logger := zerolog.New(io.Discard)
	store := NewFailoverDeadLetters(primary, fallback, &logger)
	ctx := context.Background()

	local := models.QueueItem{ID: "local"}
	remote := models.QueueItem{ID: "remote"}

	primary.On("Push", ctx, local).Return(errors.New("down")).Once()
	require.NoError(t, store.Push(ctx, local))

	primary.On("List", ctx, 10).Return([]models.QueueItem{remote}, nil).Once()
	items, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "local", items[0].ID)
	assert.Equal(t, "remote", items[1].ID)

	primary.On("List", ctx, 10).Return(nil, errors.New("down")).Once()
	items, err = store.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	primary.AssertExpectations(t)
}
