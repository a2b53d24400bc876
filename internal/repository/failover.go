package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"ridesched/internal/domain"
	"ridesched/internal/models"

	"github.com/rs/zerolog"
)

// FailoverLocker prefers the primary (redis) locker and degrades to the
// fallback while the primary is unreachable. A held lock is not a failure.
type FailoverLocker struct {
	primary  domain.Locker
	fallback domain.Locker
	recheck  time.Duration
	now      func() time.Time
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverLocker(primary, fallback domain.Locker, recheck time.Duration, logger *zerolog.Logger) *FailoverLocker {
	if recheck <= 0 {
		recheck = time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		recheck:  recheck,
		now:      time.Now,
		logger:   logger,
	}
}

// Acquire returns a lease from whichever locker granted it, so Extend and
// Release go back to the same backend.
func (l *FailoverLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	if !l.isDown.Load() || l.shouldRecheck() {
		lease, err := l.primary.Acquire(ctx, key, ttl)
		if err == nil || errors.Is(err, ErrLockHeld) {
			if l.isDown.Swap(false) {
				l.logger.Info().Msg("primary locker recovered")
			}
			return lease, err
		}
		l.logger.Error().Err(err).Msg("primary locker failed, falling back to in-process lock")
		l.markDown()
	}

	return l.fallback.Acquire(ctx, key, ttl)
}

func (l *FailoverLocker) shouldRecheck() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now().Sub(l.lastCheck) > l.recheck
}

func (l *FailoverLocker) markDown() {
	l.mu.Lock()
	l.lastCheck = l.now()
	l.mu.Unlock()
	l.isDown.Store(true)
}

// FailoverDeadLetters writes to the primary list and keeps items in the
// fallback when the primary rejects them.
type FailoverDeadLetters struct {
	primary  domain.DeadLetters
	fallback domain.DeadLetters
	logger   *zerolog.Logger
}

func NewFailoverDeadLetters(primary, fallback domain.DeadLetters, logger *zerolog.Logger) *FailoverDeadLetters {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverDeadLetters{primary: primary, fallback: fallback, logger: logger}
}

func (d *FailoverDeadLetters) Push(ctx context.Context, item models.QueueItem) error {
	if err := d.primary.Push(ctx, item); err != nil {
		d.logger.Error().Err(err).Str("item_id", item.ID).Msg("primary dead letter store failed, keeping item in memory")
		return d.fallback.Push(ctx, item)
	}
	return nil
}

// List returns fallback items first, then primary items, up to limit.
func (d *FailoverDeadLetters) List(ctx context.Context, limit int) ([]models.QueueItem, error) {
	local, err := d.fallback.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	remote, err := d.primary.List(ctx, limit)
	if err != nil {
		d.logger.Warn().Err(err).Msg("primary dead letter store unavailable")
		return local, nil
	}
	out := append(local, remote...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
