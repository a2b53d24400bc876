package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ridesched/internal/domain"
	"ridesched/internal/events"
	"ridesched/internal/logging"
	"ridesched/internal/metrics"
	"ridesched/internal/models"
	"ridesched/internal/queue"
	"ridesched/internal/retry"
	"ridesched/internal/trigger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrBusy is returned when the queue lock could not be taken in time.
var ErrBusy = errors.New("queue is locked by another invocation")

// persistTimeout bounds the save that records outcomes after the caller's
// context is gone.
const persistTimeout = 15 * time.Second

// Deps are the collaborators a Processor drives. DeadLetters and Events are optional.
type Deps struct {
	Store       domain.QueueStore
	Locker      domain.Locker
	Executor    domain.Executor
	Host        domain.TriggerHost
	DeadLetters domain.DeadLetters
	Events      domain.EventPublisher
}

// Options tune a Processor. Zero values take defaults.
type Options struct {
	Policy         retry.Policy
	LockKey        string
	LockTTL        time.Duration
	LockWait       time.Duration
	ExecuteTimeout time.Duration
	BatchSize      int
	Now            func() time.Time
	NewID          func() string
}

// RunResult summarizes one ProcessDue pass.
type RunResult struct {
	Processed int        `json:"processed"`
	Succeeded int        `json:"succeeded"`
	Retried   int        `json:"retried"`
	Abandoned int        `json:"abandoned"`
	Remaining int        `json:"remaining"`
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`
}

// Snapshot is the operator view of the queue.
type Snapshot struct {
	Statistics models.Statistics    `json:"statistics"`
	Items      []models.DisplayItem `json:"items"`
	NextRunAt  *time.Time           `json:"nextRunAt,omitempty"`
}

type pendingEvent struct {
	kind string
	item models.QueueItem
}

// Processor runs every queue transaction as lock, load, work, save and then
// reconciles the retry trigger with what is left in the queue.
type Processor struct {
	deps   Deps
	queue  queue.Queue
	opts   Options
	logger zerolog.Logger
}

func NewProcessor(deps Deps, opts Options, logger *zerolog.Logger) (*Processor, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("queue store is required")
	case deps.Locker == nil:
		return nil, errors.New("locker is required")
	case deps.Executor == nil:
		return nil, errors.New("executor is required")
	case deps.Host == nil:
		return nil, errors.New("trigger host is required")
	}

	if opts.LockKey == "" {
		opts.LockKey = "ridesched:queue:lock"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 10 * time.Second
	}
	if opts.ExecuteTimeout <= 0 {
		opts.ExecuteTimeout = 30 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.LockTTL <= opts.ExecuteTimeout {
		return nil, fmt.Errorf("lock ttl %s must exceed execute timeout %s", opts.LockTTL, opts.ExecuteTimeout)
	}

	return &Processor{
		deps:   deps,
		queue:  queue.New(opts.Policy),
		opts:   opts,
		logger: logging.Component(logger, "processor"),
	}, nil
}

// Enqueue records a failed operation for later replay. Validation errors are
// returned as *queue.ValidationError and nothing is stored.
func (p *Processor) Enqueue(ctx context.Context, op models.Operation) (models.QueueItem, error) {
	item, err := p.queue.CreateItem(op, p.opts.NewID, p.opts.Now)
	if err != nil {
		return models.QueueItem{}, err
	}

	err = p.withLock(ctx, func(ctx context.Context, lease domain.Lease) error {
		items, err := p.deps.Store.LoadQueue(ctx)
		if err != nil {
			return fmt.Errorf("load queue: %w", err)
		}
		items = append(items, item.Clone())
		if err := p.save(ctx, lease, items); err != nil {
			return err
		}
		p.reschedule(ctx, items)
		return nil
	})
	if err != nil {
		return models.QueueItem{}, err
	}

	metrics.IncOperation(item.Type, "enqueued")
	p.publish(ctx, []pendingEvent{{kind: events.EventItemEnqueued, item: item}})
	logging.Item(p.logger.Info(), item).Time("next_retry_at", *item.NextRetryAt).Msg("operation queued for retry")
	return item, nil
}

// ProcessDue replays every due item, at most BatchSize per pass. Executor
// failures are recorded on the item, never returned.
//
// The lease is extended before every execution and checked again before the
// save. Once any item has executed, outcomes are saved even if ctx is
// cancelled, so finished work is not replayed.
func (p *Processor) ProcessDue(ctx context.Context) (RunResult, error) {
	var (
		result  RunResult
		pending []pendingEvent
	)
	persistCtx := context.WithoutCancel(ctx)

	err := p.withLock(ctx, func(ctx context.Context, lease domain.Lease) error {
		items, err := p.deps.Store.LoadQueue(ctx)
		if err != nil {
			return fmt.Errorf("load queue: %w", err)
		}

		due := p.queue.DueItems(items, p.opts.Now())
		if len(due) > p.opts.BatchSize {
			p.logger.Info().Int("due", len(due)).Int("batch", p.opts.BatchSize).Msg("due items exceed batch size")
			due = due[:p.opts.BatchSize]
		}

		for _, item := range due {
			if ctx.Err() != nil {
				p.logger.Warn().Int("processed", result.Processed).Msg("retry pass interrupted")
				break
			}
			if err := lease.Extend(ctx, p.opts.LockTTL); err != nil {
				return p.lostLease(err, result)
			}
			result.Processed++

			execErr := p.execute(ctx, item)
			if execErr == nil {
				items = p.queue.RemoveItem(items, item.ID)
				result.Succeeded++
				pending = append(pending, pendingEvent{kind: events.EventItemSucceeded, item: item})
				continue
			}

			updated, shouldRetry := p.queue.UpdateAfterFailure(item, execErr.Error(), p.opts.Now())
			if shouldRetry {
				items = p.queue.UpdateItem(items, updated)
				result.Retried++
				pending = append(pending, pendingEvent{kind: events.EventItemRetryScheduled, item: updated})
				continue
			}

			items = p.queue.RemoveItem(items, item.ID)
			result.Abandoned++
			pending = append(pending, pendingEvent{kind: events.EventItemAbandoned, item: updated})
		}

		saveCtx := ctx
		if result.Processed > 0 {
			var cancel context.CancelFunc
			saveCtx, cancel = context.WithTimeout(persistCtx, persistTimeout)
			defer cancel()

			if err := p.save(saveCtx, lease, items); err != nil {
				if errors.Is(err, domain.ErrLockLost) {
					return p.lostLease(err, result)
				}
				return err
			}
		}
		p.reschedule(saveCtx, items)

		result.Remaining = len(items)
		if next, ok := p.queue.NextDue(items); ok {
			result.NextRunAt = &next
		}
		metrics.ObserveQueue(p.queue.Statistics(items, p.opts.Now()))
		return nil
	})
	if err != nil {
		return result, err
	}

	p.publish(persistCtx, pending)
	p.logger.Info().
		Int("processed", result.Processed).
		Int("succeeded", result.Succeeded).
		Int("retried", result.Retried).
		Int("abandoned", result.Abandoned).
		Int("remaining", result.Remaining).
		Msg("retry pass finished")
	return result, nil
}

// lostLease abandons the pass without saving. Another writer may have
// committed since the lease expired, and overwriting its snapshot would drop
// its items; outcomes of this pass are replayed instead.
func (p *Processor) lostLease(err error, result RunResult) error {
	p.logger.Error().Err(err).
		Int("processed", result.Processed).
		Msg("queue lock lost during retry pass, outcomes not saved")
	return fmt.Errorf("retry pass aborted: %w", err)
}

// HandleTrigger adapts ProcessDue to a timer handler.
func (p *Processor) HandleTrigger(ctx context.Context) error {
	_, err := p.ProcessDue(ctx)
	if errors.Is(err, ErrBusy) {
		// The lock holder reschedules the trigger when it finishes.
		p.logger.Info().Msg("retry pass skipped, queue busy")
		return nil
	}
	return err
}

// Cancel drops a pending item. Cancelling an unknown id reports false.
func (p *Processor) Cancel(ctx context.Context, id string) (bool, error) {
	var removed *models.QueueItem

	err := p.withLock(ctx, func(ctx context.Context, lease domain.Lease) error {
		items, err := p.deps.Store.LoadQueue(ctx)
		if err != nil {
			return fmt.Errorf("load queue: %w", err)
		}
		for i := range items {
			if items[i].ID == id {
				item := items[i].Clone()
				removed = &item
				break
			}
		}
		if removed == nil {
			return nil
		}

		items = p.queue.RemoveItem(items, id)
		if err := p.save(ctx, lease, items); err != nil {
			return err
		}
		p.reschedule(ctx, items)
		return nil
	})
	if err != nil || removed == nil {
		return false, err
	}

	metrics.IncOperation(removed.Type, "cancelled")
	p.publish(ctx, []pendingEvent{{kind: events.EventItemCancelled, item: *removed}})
	logging.Item(p.logger.Info(), *removed).Msg("queued operation cancelled")
	return true, nil
}

// Snapshot reads the queue without taking the lock.
func (p *Processor) Snapshot(ctx context.Context) (Snapshot, error) {
	items, err := p.deps.Store.LoadQueue(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load queue: %w", err)
	}
	now := p.opts.Now()
	stats := p.queue.Statistics(items, now)
	metrics.ObserveQueue(stats)

	snap := Snapshot{
		Statistics: stats,
		Items:      p.queue.FormatItems(items, now),
	}
	if next, ok := p.queue.NextDue(items); ok {
		snap.NextRunAt = &next
	}
	return snap, nil
}

// DeadLetters lists abandoned items, newest first.
func (p *Processor) DeadLetters(ctx context.Context, limit int) ([]models.QueueItem, error) {
	if p.deps.DeadLetters == nil {
		return []models.QueueItem{}, nil
	}
	return p.deps.DeadLetters.List(ctx, limit)
}

// save writes the snapshot only while the lease is still ours.
func (p *Processor) save(ctx context.Context, lease domain.Lease, items []models.QueueItem) error {
	if err := lease.Extend(ctx, p.opts.LockTTL); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	if err := p.deps.Store.SaveQueue(ctx, items); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}

func (p *Processor) execute(ctx context.Context, item models.QueueItem) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ExecuteTimeout)
	defer cancel()

	err := p.deps.Executor.Execute(ctx, item)
	if err != nil {
		logging.Item(p.logger.Warn(), item).Err(err).Msg("operation failed")
		return err
	}
	logging.Item(p.logger.Debug(), item).Msg("operation succeeded")
	return nil
}

// reschedule points the retry trigger at the earliest pending retry, or
// removes it when the queue is empty. Failures are logged; the daily backstop
// picks up anything a missed trigger leaves behind.
func (p *Processor) reschedule(ctx context.Context, items []models.QueueItem) {
	next, ok := p.queue.NextDue(items)
	var err error
	if ok {
		err = p.deps.Host.Schedule(ctx, trigger.RetryQueueScheduled, next)
	} else {
		err = p.deps.Host.Remove(ctx, trigger.RetryQueueScheduled, len(items) > 0)
	}
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to update retry trigger")
	}
}

func (p *Processor) publish(ctx context.Context, pending []pendingEvent) {
	for _, ev := range pending {
		switch ev.kind {
		case events.EventItemSucceeded:
			metrics.IncOperation(ev.item.Type, "succeeded")
		case events.EventItemRetryScheduled:
			metrics.IncOperation(ev.item.Type, "retried")
		case events.EventItemAbandoned:
			metrics.IncOperation(ev.item.Type, "abandoned")
			logging.Item(p.logger.Error(), ev.item).Str("last_error", ev.item.LastError).Msg("operation abandoned after retry window")
			if p.deps.DeadLetters != nil {
				if err := p.deps.DeadLetters.Push(ctx, ev.item); err != nil {
					logging.Item(p.logger.Error(), ev.item).Err(err).Msg("failed to record dead letter")
				}
			}
		}

		if p.deps.Events == nil {
			continue
		}
		if err := p.deps.Events.PublishJSON(ev.kind, events.NewItemPayload(ev.item)); err != nil {
			p.logger.Warn().Err(err).Str("event", ev.kind).Msg("failed to publish event")
		}
	}
}

// withLock runs fn while holding the queue lock, polling for up to LockWait.
func (p *Processor) withLock(ctx context.Context, fn func(ctx context.Context, lease domain.Lease) error) error {
	waitCtx, cancel := context.WithTimeout(ctx, p.opts.LockWait)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		lease, err := p.deps.Locker.Acquire(ctx, p.opts.LockKey, p.opts.LockTTL)
		if err == nil {
			defer func() {
				if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
					p.logger.Warn().Err(err).Msg("failed to release queue lock")
				}
			}()
			return fn(ctx, lease)
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("acquire queue lock: %w", err)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrBusy
		case <-ticker.C:
		}
	}
}
