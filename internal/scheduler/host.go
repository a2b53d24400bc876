// Package scheduler is the timer host: it runs the daily backstop checks on a
// cron schedule and arms one-shot timers for scheduled triggers, persisting
// each trigger's identity and fire time in the property store so timers
// survive a restart.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"ridesched/internal/domain"
	"ridesched/internal/metrics"
	"ridesched/internal/trigger"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	// ErrNotOwner is returned by Install when the caller may not install triggers.
	ErrNotOwner = errors.New("trigger installation rejected")
	// ErrNotScheduled is returned for operations that need a scheduled trigger type.
	ErrNotScheduled = errors.New("trigger type is not dynamically scheduled")
)

// HandlerFunc is invoked when a trigger fires.
type HandlerFunc func(ctx context.Context) error

// Stopper is the part of *time.Timer the host needs.
type Stopper interface {
	Stop() bool
}

// Options configures a Host. Zero values fall back to real time.
type Options struct {
	OwnerEmail string
	Location   *time.Location
	// Backstops maps each backstop trigger type to its cron expression.
	Backstops map[trigger.Type]string
	Now       func() time.Time
	NewID     func() string
}

type armedTimer struct {
	id    string
	at    time.Time
	timer Stopper
}

type Host struct {
	mu        sync.Mutex
	cron      *cron.Cron
	store     domain.PropertyStore
	handlers  map[string]HandlerFunc
	timers    map[trigger.Type]armedTimer
	backstops map[trigger.Type]cron.EntryID
	specs     map[trigger.Type]string
	owner     string

	baseCtx   context.Context
	now       func() time.Time
	newID     func() string
	afterFunc func(d time.Duration, f func()) Stopper
	logger    zerolog.Logger
}

func NewHost(store domain.PropertyStore, opts Options, logger *zerolog.Logger) *Host {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "scheduler").Logger()
	}
	specs := make(map[trigger.Type]string, len(opts.Backstops))
	for t, spec := range opts.Backstops {
		specs[t] = spec
	}

	return &Host{
		cron:      cron.New(cron.WithLocation(loc)),
		store:     store,
		handlers:  make(map[string]HandlerFunc),
		timers:    make(map[trigger.Type]armedTimer),
		backstops: make(map[trigger.Type]cron.EntryID),
		specs:     specs,
		owner:     opts.OwnerEmail,
		baseCtx:   context.Background(),
		now:       now,
		newID:     newID,
		afterFunc: func(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) },
		logger:    l,
	}
}

// Register binds a catalog handler name to a function.
func (h *Host) Register(handler string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[handler] = fn
}

// AddCronJob schedules an auxiliary job that is not part of the trigger catalog.
func (h *Host) AddCronJob(spec, name string, fn HandlerFunc) error {
	_, err := h.cron.AddFunc(spec, func() {
		if err := fn(h.baseCtx); err != nil {
			h.logger.Error().Err(err).Str("job", name).Msg("cron job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return nil
}

// Start runs cron entries until Stop. Handlers receive ctx.
func (h *Host) Start(ctx context.Context) {
	h.mu.Lock()
	h.baseCtx = ctx
	h.mu.Unlock()
	h.cron.Start()
	h.logger.Info().Msg("scheduler started")
}

// Stop halts cron, waits for running cron jobs and disarms every timer.
// Persisted trigger state is kept so Restore can re-arm it.
func (h *Host) Stop() {
	<-h.cron.Stop().Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for t, armed := range h.timers {
		armed.timer.Stop()
		delete(h.timers, t)
	}
	h.logger.Info().Msg("scheduler stopped")
}

// RunAutomatic invokes the handlers of host-automatic triggers once, the way
// the host does when the process comes up.
func (h *Host) RunAutomatic() {
	for _, t := range trigger.All() {
		cfg, _ := trigger.Lookup(t)
		if cfg.Kind == trigger.KindAutomatic {
			h.run(cfg.Handler)
		}
	}
}

// ScheduledAt returns the persisted fire time of a scheduled trigger, or nil.
func (h *Host) ScheduledAt(ctx context.Context, t trigger.Type) (*time.Time, error) {
	cfg, ok := trigger.Lookup(t)
	if !ok || !cfg.IsScheduled() {
		return nil, fmt.Errorf("%w: %s", ErrNotScheduled, t)
	}
	return h.persistedTime(ctx, cfg)
}

// Schedule makes sure trigger t fires at `at`. It is a no-op when the trigger
// is already set for that instant.
func (h *Host) Schedule(ctx context.Context, t trigger.Type, at time.Time) error {
	cfg, ok := trigger.Lookup(t)
	if !ok || !cfg.IsScheduled() {
		return fmt.Errorf("%w: %s", ErrNotScheduled, t)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	existing, err := h.persistedTime(ctx, cfg)
	if err != nil {
		return err
	}

	decision := trigger.ShouldScheduleTrigger(t, existing, at)
	if !decision.ShouldSchedule {
		if _, armed := h.timers[t]; !armed {
			id, err := h.persistedID(ctx, cfg)
			if err != nil {
				return err
			}
			h.arm(cfg, id, *existing)
		}
		h.logger.Debug().Str("trigger", string(t)).Str("reason", decision.Reason).Msg("trigger unchanged")
		return nil
	}

	id := h.newID()
	if err := h.store.SetProperty(ctx, cfg.IDKey, id); err != nil {
		return fmt.Errorf("failed to persist trigger id: %w", err)
	}
	if err := h.store.SetProperty(ctx, cfg.TimeKey, strconv.FormatInt(at.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("failed to persist trigger time: %w", err)
	}
	h.disarm(t)
	h.arm(cfg, id, at)

	metrics.IncTrigger(string(t), "scheduled")
	h.logger.Info().
		Str("trigger", string(t)).
		Time("at", at).
		Str("reason", decision.Reason).
		Msg("trigger scheduled")
	return nil
}

// Remove tears trigger t down when no work remains for it.
func (h *Host) Remove(ctx context.Context, t trigger.Type, hasWork bool) error {
	decision := trigger.ShouldRemoveTrigger(t, hasWork)
	if !decision.ShouldRemove {
		h.logger.Debug().Str("trigger", string(t)).Str("reason", decision.Reason).Msg("trigger kept")
		return nil
	}
	cfg, _ := trigger.Lookup(t)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.disarm(t)
	if err := h.clearProperties(ctx, cfg); err != nil {
		return err
	}

	metrics.IncTrigger(string(t), "removed")
	h.logger.Info().Str("trigger", string(t)).Str("reason", decision.Reason).Msg("trigger removed")
	return nil
}

// Restore re-arms scheduled triggers and re-installs backstops recorded in
// the property store. Overdue triggers fire immediately.
func (h *Host) Restore(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, t := range trigger.All() {
		cfg, _ := trigger.Lookup(t)
		if !cfg.Installable {
			continue
		}

		if cfg.IsScheduled() {
			at, err := h.persistedTime(ctx, cfg)
			if err != nil {
				return err
			}
			if at == nil {
				continue
			}
			id, err := h.persistedID(ctx, cfg)
			if err != nil {
				return err
			}
			h.disarm(t)
			h.arm(cfg, id, *at)
			h.logger.Info().Str("trigger", string(t)).Time("at", *at).Msg("trigger restored")
			continue
		}

		if _, err := h.store.GetProperty(ctx, cfg.IDKey); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return fmt.Errorf("failed to read %s: %w", cfg.IDKey, err)
		}
		if _, installed := h.backstops[t]; installed {
			continue
		}
		if err := h.installBackstop(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}

// Install registers the requested trigger types on behalf of userEmail. With
// no types given, every backstop is installed.
func (h *Host) Install(ctx context.Context, userEmail string, types ...trigger.Type) (trigger.InstallationSummary, error) {
	if v := trigger.ValidateInstallation(userEmail, h.owner); !v.Valid {
		return trigger.InstallationSummary{}, fmt.Errorf("%w: %s", ErrNotOwner, v.Error)
	}
	if len(types) == 0 {
		types = trigger.Backstops()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	results := make([]trigger.InstallResult, 0, len(types))
	for _, t := range types {
		results = append(results, h.installOne(ctx, t))
	}

	summary := trigger.BuildInstallationSummary(results)
	h.logger.Info().
		Int("installed", summary.Installed).
		Int("existed", summary.Existed).
		Int("failed", summary.Failed).
		Msg("trigger installation finished")
	return summary, nil
}

func (h *Host) installOne(ctx context.Context, t trigger.Type) trigger.InstallResult {
	cfg, ok := trigger.Lookup(t)
	switch {
	case !ok:
		return trigger.InstallResult{Type: t, Outcome: trigger.OutcomeFailed, Error: "unknown trigger type"}
	case !cfg.Installable:
		return trigger.InstallResult{Type: t, Outcome: trigger.OutcomeFailed, Error: "installed automatically by the host"}
	case cfg.IsScheduled():
		if _, armed := h.timers[t]; armed {
			return trigger.InstallResult{Type: t, Outcome: trigger.OutcomeExisted}
		}
		return trigger.InstallResult{Type: t, Outcome: trigger.OutcomeFailed, Error: "scheduled automatically when work is pending"}
	}

	if _, installed := h.backstops[t]; installed {
		return trigger.InstallResult{Type: t, Outcome: trigger.OutcomeExisted}
	}
	if err := h.installBackstop(ctx, cfg); err != nil {
		return trigger.InstallResult{Type: t, Outcome: trigger.OutcomeFailed, Error: err.Error()}
	}
	return trigger.InstallResult{Type: t, Outcome: trigger.OutcomeInstalled}
}

// installBackstop must be called with h.mu held.
func (h *Host) installBackstop(ctx context.Context, cfg trigger.Config) error {
	spec, ok := h.specs[cfg.Type]
	if !ok || spec == "" {
		return fmt.Errorf("no schedule configured for %s", cfg.Type)
	}

	handler := cfg.Handler
	entryID, err := h.cron.AddFunc(spec, func() { h.run(handler) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	if err := h.store.SetProperty(ctx, cfg.IDKey, strconv.Itoa(int(entryID))); err != nil {
		h.cron.Remove(entryID)
		return fmt.Errorf("failed to persist trigger id: %w", err)
	}

	h.backstops[cfg.Type] = entryID
	metrics.IncTrigger(string(cfg.Type), "installed")
	h.logger.Info().Str("trigger", string(cfg.Type)).Str("schedule", spec).Msg("backstop installed")
	return nil
}

// arm must be called with h.mu held.
func (h *Host) arm(cfg trigger.Config, id string, at time.Time) {
	delay := at.Sub(h.now())
	if delay < 0 {
		delay = 0
	}
	t := cfg.Type
	timer := h.afterFunc(delay, func() { h.fire(t, id) })
	h.timers[t] = armedTimer{id: id, at: at, timer: timer}
}

// disarm must be called with h.mu held.
func (h *Host) disarm(t trigger.Type) {
	if armed, ok := h.timers[t]; ok {
		armed.timer.Stop()
		delete(h.timers, t)
	}
}

// fire consumes a one-shot trigger and runs its handler. Timers replaced
// since they were armed are ignored.
func (h *Host) fire(t trigger.Type, id string) {
	cfg, _ := trigger.Lookup(t)

	h.mu.Lock()
	armed, ok := h.timers[t]
	if !ok || armed.id != id {
		h.mu.Unlock()
		return
	}
	delete(h.timers, t)
	err := h.clearProperties(h.baseCtx, cfg)
	h.mu.Unlock()

	if err != nil {
		h.logger.Error().Err(err).Str("trigger", string(t)).Msg("failed to clear fired trigger")
	}
	metrics.IncTrigger(string(t), "fired")
	h.run(cfg.Handler)
}

func (h *Host) run(handler string) {
	h.mu.Lock()
	fn, ok := h.handlers[handler]
	ctx := h.baseCtx
	h.mu.Unlock()

	if !ok {
		h.logger.Warn().Str("handler", handler).Msg("no handler registered")
		return
	}
	if err := fn(ctx); err != nil {
		h.logger.Error().Err(err).Str("handler", handler).Msg("trigger handler failed")
	}
}

func (h *Host) clearProperties(ctx context.Context, cfg trigger.Config) error {
	for _, key := range []string{cfg.IDKey, cfg.TimeKey} {
		if err := h.store.DeleteProperty(ctx, key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}

func (h *Host) persistedTime(ctx context.Context, cfg trigger.Config) (*time.Time, error) {
	raw, err := h.store.GetProperty(ctx, cfg.TimeKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", cfg.TimeKey, err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.logger.Warn().Str("key", cfg.TimeKey).Str("value", raw).Msg("ignoring malformed trigger time")
		return nil, nil
	}
	at := time.UnixMilli(ms).UTC()
	return &at, nil
}

func (h *Host) persistedID(ctx context.Context, cfg trigger.Config) (string, error) {
	id, err := h.store.GetProperty(ctx, cfg.IDKey)
	if errors.Is(err, domain.ErrNotFound) {
		id = h.newID()
		if err := h.store.SetProperty(ctx, cfg.IDKey, id); err != nil {
			return "", fmt.Errorf("failed to persist trigger id: %w", err)
		}
		return id, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", cfg.IDKey, err)
	}
	return id, nil
}
