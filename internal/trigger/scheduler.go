package trigger

import (
	"fmt"
	"strings"
	"time"
)

// ScheduleDecision is the verdict of ShouldScheduleTrigger.
type ScheduleDecision struct {
	ShouldSchedule bool
	Reason         string
}

// RemoveDecision is the verdict of ShouldRemoveTrigger.
type RemoveDecision struct {
	ShouldRemove bool
	Reason       string
}

// Validation is the result of ValidateInstallation.
type Validation struct {
	Valid bool
	Error string
}

// ShouldScheduleTrigger decides whether a scheduled trigger must be
// (re)installed to fire at next. An existing trigger for the same instant is
// left alone. Times are compared at millisecond precision, the resolution
// they are persisted with.
func ShouldScheduleTrigger(t Type, existing *time.Time, next time.Time) ScheduleDecision {
	cfg, ok := Lookup(t)
	if !ok {
		return ScheduleDecision{Reason: fmt.Sprintf("unknown trigger type %q", t)}
	}
	if !cfg.IsScheduled() {
		return ScheduleDecision{Reason: fmt.Sprintf("trigger %s has a fixed schedule", t)}
	}
	if existing == nil {
		return ScheduleDecision{ShouldSchedule: true, Reason: "no trigger installed"}
	}
	if existing.UnixMilli() == next.UnixMilli() {
		return ScheduleDecision{Reason: "trigger already scheduled for this time"}
	}
	return ScheduleDecision{
		ShouldSchedule: true,
		Reason:         fmt.Sprintf("rescheduling from %s to %s", existing.UTC().Format(time.RFC3339), next.UTC().Format(time.RFC3339)),
	}
}

// ShouldRemoveTrigger decides whether a scheduled trigger can be torn down.
// Backstops are never removed.
func ShouldRemoveTrigger(t Type, hasWork bool) RemoveDecision {
	cfg, ok := Lookup(t)
	if !ok {
		return RemoveDecision{Reason: fmt.Sprintf("unknown trigger type %q", t)}
	}
	if !cfg.IsScheduled() {
		return RemoveDecision{Reason: fmt.Sprintf("trigger %s is permanent", t)}
	}
	if hasWork {
		return RemoveDecision{Reason: "pending work remains"}
	}
	return RemoveDecision{ShouldRemove: true, Reason: "no pending work"}
}

// ValidateInstallation checks that only the owner installs triggers that
// run with owner privileges.
func ValidateInstallation(currentUserEmail, ownerEmail string) Validation {
	current := strings.TrimSpace(currentUserEmail)
	owner := strings.TrimSpace(ownerEmail)

	switch {
	case owner == "":
		return Validation{Error: "owner email is not configured"}
	case current == "":
		return Validation{Error: "current user email is unknown"}
	case !strings.EqualFold(current, owner):
		return Validation{Error: fmt.Sprintf("triggers must be installed by the owner (%s), not %s", owner, current)}
	default:
		return Validation{Valid: true}
	}
}
