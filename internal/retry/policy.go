package retry

import (
	"time"

	"ridesched/internal/models"
)

const (
	DefaultFastInterval = 5 * time.Minute
	DefaultSlowInterval = 60 * time.Minute
	DefaultFastWindow   = time.Hour
	DefaultMaxAge       = 48 * time.Hour
)

// Policy defines the two-tier backoff used by the retry queue.
// Items are retried every FastInterval during their first FastWindow,
// every SlowInterval afterwards, and abandoned once MaxAge has elapsed
// since they were enqueued.
type Policy struct {
	FastInterval time.Duration
	SlowInterval time.Duration
	FastWindow   time.Duration
	MaxAge       time.Duration
}

// DefaultPolicy returns the policy persisted queues were built with.
func DefaultPolicy() Policy {
	return Policy{
		FastInterval: DefaultFastInterval,
		SlowInterval: DefaultSlowInterval,
		FastWindow:   DefaultFastWindow,
		MaxAge:       DefaultMaxAge,
	}
}

// withDefaults fills zero fields so a partially configured policy stays usable.
func (p Policy) withDefaults() Policy {
	if p.FastInterval <= 0 {
		p.FastInterval = DefaultFastInterval
	}
	if p.SlowInterval <= 0 {
		p.SlowInterval = DefaultSlowInterval
	}
	if p.FastWindow <= 0 {
		p.FastWindow = DefaultFastWindow
	}
	if p.MaxAge <= 0 {
		p.MaxAge = DefaultMaxAge
	}
	return p
}

// NextRetry returns the next permitted attempt time for an item enqueued at
// enqueuedAt, evaluated at now. The second result is false once MaxAge has
// elapsed, regardless of attemptCount. A now earlier than enqueuedAt (clock
// skew between hosts) is treated as now == enqueuedAt, so the result is
// always after enqueuedAt.
func (p Policy) NextRetry(attemptCount int, enqueuedAt, now time.Time) (time.Time, bool) {
	p = p.withDefaults()

	if now.Before(enqueuedAt) {
		now = enqueuedAt
	}
	elapsed := now.Sub(enqueuedAt)
	switch {
	case elapsed >= p.MaxAge:
		return time.Time{}, false
	case elapsed < p.FastWindow:
		return now.Add(p.FastInterval), true
	default:
		return now.Add(p.SlowInterval), true
	}
}

// FirstRetry returns the retry time assigned to a freshly created item.
func (p Policy) FirstRetry(enqueuedAt time.Time) time.Time {
	return enqueuedAt.Add(p.withDefaults().FastInterval)
}

// CalculateNextRetry applies DefaultPolicy.
func CalculateNextRetry(attemptCount int, enqueuedAt, now time.Time) (time.Time, bool) {
	return DefaultPolicy().NextRetry(attemptCount, enqueuedAt, now)
}

// DeriveStatus classifies an item from its attempt counter and whether a
// next retry time is present.
func DeriveStatus(attemptCount int, nextRetryAt *time.Time) models.Status {
	if attemptCount <= 0 {
		return models.StatusPending
	}
	if nextRetryAt != nil {
		return models.StatusRetrying
	}
	return models.StatusFailed
}
