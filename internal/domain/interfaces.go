package domain

import (
	"context"
	"errors"
	"time"

	"ridesched/internal/models"
	"ridesched/internal/trigger"
)

// ErrNotFound is returned by stores when a key or row is absent.
var ErrNotFound = errors.New("not found")

// ErrLockHeld is returned by a Locker when another invocation owns the lock.
var ErrLockHeld = errors.New("lock is held by another process")

// ErrLockLost is returned by Lease.Extend once the lease expired or was taken over.
var ErrLockLost = errors.New("lock is no longer held")

// QueueStore persists whole queue snapshots. Callers load once, transform
// in memory and save once.
type QueueStore interface {
	LoadQueue(ctx context.Context) ([]models.QueueItem, error)
	SaveQueue(ctx context.Context, items []models.QueueItem) error
}

// PropertyStore is the key/value bag where the timer host records installed
// trigger identities and fire times.
type PropertyStore interface {
	GetProperty(ctx context.Context, key string) (string, error)
	SetProperty(ctx context.Context, key, value string) error
	DeleteProperty(ctx context.Context, key string) error
}

// Lease is a lock obtained from a Locker. Extend pushes the expiry to ttl
// from now and fails with ErrLockLost when the lease is no longer ours.
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker serializes snapshot writers across invocations.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Executor performs the operation a queue item describes.
type Executor interface {
	Execute(ctx context.Context, item models.QueueItem) error
}

// TriggerHost installs and removes time-driven callbacks.
type TriggerHost interface {
	Schedule(ctx context.Context, t trigger.Type, at time.Time) error
	Remove(ctx context.Context, t trigger.Type, hasWork bool) error
}

// DeadLetters keeps abandoned items for manual follow-up.
type DeadLetters interface {
	Push(ctx context.Context, item models.QueueItem) error
	List(ctx context.Context, limit int) ([]models.QueueItem, error)
}

// Notifier tells a human about an abandoned operation.
type Notifier interface {
	NotifyAbandoned(ctx context.Context, item models.QueueItem) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
