package repository

import (
	"context"
	"sync"
	"time"

	"ridesched/internal/domain"
	"ridesched/internal/models"

	"github.com/google/uuid"
)

type memoryLock struct {
	token   string
	expires time.Time
}

// MemoryLocker serializes writers within a single process.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	now   func() time.Time
}

func NewMemoryLocker(now func() time.Time) *MemoryLocker {
	if now == nil {
		now = time.Now
	}
	return &MemoryLocker{locks: make(map[string]memoryLock), now: now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.locks[key]; ok && l.now().Before(held.expires) {
		return nil, ErrLockHeld
	}

	token := uuid.NewString()
	l.locks[key] = memoryLock{token: token, expires: l.now().Add(ttl)}
	return &memoryLease{locker: l, key: key, token: token}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  string
}

// Extend fails once the lease has expired, even if nobody reclaimed it yet.
func (m *memoryLease) Extend(_ context.Context, ttl time.Duration) error {
	l := m.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	held, ok := l.locks[m.key]
	if !ok || held.token != m.token || !l.now().Before(held.expires) {
		return ErrLockLost
	}
	held.expires = l.now().Add(ttl)
	l.locks[m.key] = held
	return nil
}

func (m *memoryLease) Release(context.Context) error {
	l := m.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	if held, ok := l.locks[m.key]; ok && held.token == m.token {
		delete(l.locks, m.key)
	}
	return nil
}

// MemoryDeadLetters is the in-process fallback for the dead-letter list.
type MemoryDeadLetters struct {
	mu    sync.Mutex
	items []models.QueueItem
}

func NewMemoryDeadLetters() *MemoryDeadLetters {
	return &MemoryDeadLetters{}
}

func (d *MemoryDeadLetters) Push(_ context.Context, item models.QueueItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append([]models.QueueItem{item.Clone()}, d.items...)
	return nil
}

func (d *MemoryDeadLetters) List(_ context.Context, limit int) ([]models.QueueItem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if limit <= 0 || limit > len(d.items) {
		limit = len(d.items)
	}
	out := make([]models.QueueItem, 0, limit)
	for _, item := range d.items[:limit] {
		out = append(out, item.Clone())
	}
	return out, nil
}
