// Package queue manages the lifecycle of retry queue items as pure
// transformations over snapshots. Callers load a snapshot, apply any number
// of operations and persist the result once; nothing here performs I/O or
// reads the clock.
package queue

import (
	"math"
	"strconv"
	"strings"
	"time"

	"ridesched/internal/models"
	"ridesched/internal/retry"
)

// Queue applies a retry policy to item snapshots. The zero value uses the
// default policy.
type Queue struct {
	policy retry.Policy
}

// New returns a Queue bound to policy.
func New(policy retry.Policy) Queue {
	return Queue{policy: policy}
}

// Policy returns the retry policy the queue schedules with.
func (q Queue) Policy() retry.Policy {
	return q.policy
}

// CreateItem builds a new queue item from an operation request. ID
// generation and the clock are injected so the result is deterministic.
func (q Queue) CreateItem(op models.Operation, generateID func() string, now func() time.Time) (models.QueueItem, error) {
	if strings.TrimSpace(string(op.Type)) == "" {
		return models.QueueItem{}, &ValidationError{Field: "type", Message: "is required"}
	}
	if !op.Type.Valid() {
		return models.QueueItem{}, &ValidationError{Field: "type", Message: "must be one of create, update, delete"}
	}
	if strings.TrimSpace(op.RideURL) == "" {
		return models.QueueItem{}, &ValidationError{Field: "rideUrl", Message: "is required"}
	}

	enqueuedAt := now()
	next := q.policy.FirstRetry(enqueuedAt)

	item := models.QueueItem{
		ID:           generateID(),
		Type:         op.Type,
		CalendarID:   op.CalendarID,
		RideURL:      op.RideURL,
		RideTitle:    op.RideTitle,
		RowNum:       op.RowNum,
		UserEmail:    op.UserEmail,
		Params:       op.Params,
		EnqueuedAt:   enqueuedAt,
		AttemptCount: 0,
		NextRetryAt:  &next,
	}
	return item.Clone(), nil
}

// DueItems returns the items whose next retry time is at or before now,
// in input order.
func (q Queue) DueItems(items []models.QueueItem, now time.Time) []models.QueueItem {
	due := make([]models.QueueItem, 0, len(items))
	for _, item := range items {
		if isDue(item, now) {
			due = append(due, item.Clone())
		}
	}
	return due
}

// UpdateAfterFailure records a failed attempt. The next retry time is
// computed from the item's original enqueue time; when the second result is
// false the item is exhausted and the caller must remove it.
func (q Queue) UpdateAfterFailure(item models.QueueItem, errMsg string, now time.Time) (models.QueueItem, bool) {
	updated := item.Clone()
	updated.AttemptCount++
	updated.LastError = errMsg

	next, ok := q.policy.NextRetry(updated.AttemptCount, updated.EnqueuedAt, now)
	if !ok {
		updated.NextRetryAt = nil
		return updated, false
	}
	updated.NextRetryAt = &next
	return updated, true
}

// RemoveItem returns a copy of items without the item with the given id.
// Removing an absent id is not an error.
func (q Queue) RemoveItem(items []models.QueueItem, id string) []models.QueueItem {
	out := make([]models.QueueItem, 0, len(items))
	for _, item := range items {
		if item.ID == id {
			continue
		}
		out = append(out, item.Clone())
	}
	return out
}

// UpdateItem returns a copy of items with the item sharing updated's id
// replaced. Items are left unchanged when no id matches.
func (q Queue) UpdateItem(items []models.QueueItem, updated models.QueueItem) []models.QueueItem {
	out := make([]models.QueueItem, 0, len(items))
	for _, item := range items {
		if item.ID == updated.ID {
			out = append(out, updated.Clone())
			continue
		}
		out = append(out, item.Clone())
	}
	return out
}

// Statistics aggregates the snapshot. Age buckets are independent threshold
// checks, so LessThan24Hours also counts everything in LessThan1Hour.
func (q Queue) Statistics(items []models.QueueItem, now time.Time) models.Statistics {
	stats := models.Statistics{TotalItems: len(items)}
	for _, item := range items {
		if isDue(item, now) {
			stats.DueNow++
		}

		age := now.Sub(item.EnqueuedAt)
		if age < time.Hour {
			stats.ByAge.LessThan1Hour++
		}
		if age < 24*time.Hour {
			stats.ByAge.LessThan24Hours++
		} else {
			stats.ByAge.MoreThan24Hours++
		}
	}
	return stats
}

// FormatItems maps items to their operator-facing view.
func (q Queue) FormatItems(items []models.QueueItem, now time.Time) []models.DisplayItem {
	out := make([]models.DisplayItem, 0, len(items))
	for _, item := range items {
		display := models.DisplayItem{
			ID:           item.ID,
			Type:         string(item.Type),
			RideTitle:    "Unknown",
			RowNum:       "Unknown",
			UserEmail:    item.UserEmail,
			AgeMinutes:   int(math.Floor(float64(now.Sub(item.EnqueuedAt).Milliseconds()) / 60000)),
			AttemptCount: item.AttemptCount,
			LastError:    item.LastError,
			Status:       retry.DeriveStatus(item.AttemptCount, item.NextRetryAt),
		}
		if item.RideTitle != "" {
			display.RideTitle = item.RideTitle
		}
		if item.RowNum > 0 {
			display.RowNum = strconv.Itoa(item.RowNum)
		}
		if item.NextRetryAt != nil {
			display.NextRetryAt = item.NextRetryAt.Format(time.RFC3339)
		}
		out = append(out, display)
	}
	return out
}

// NextDue returns the earliest next retry time in the snapshot.
func (q Queue) NextDue(items []models.QueueItem) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, item := range items {
		if item.NextRetryAt == nil {
			continue
		}
		if !found || item.NextRetryAt.Before(earliest) {
			earliest = *item.NextRetryAt
			found = true
		}
	}
	return earliest, found
}

func isDue(item models.QueueItem, now time.Time) bool {
	return item.NextRetryAt != nil && !item.NextRetryAt.After(now)
}
