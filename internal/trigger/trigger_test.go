package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	for _, tt := range All() {
		cfg, ok := Lookup(tt)
		require.True(t, ok, "type %s", tt)
		assert.Equal(t, tt, cfg.Type)
		assert.NotEmpty(t, cfg.Handler)
		if cfg.Installable {
			assert.NotEmpty(t, cfg.IDKey, "type %s", tt)
		}
	}

	_, ok := Lookup("nope")
	assert.False(t, ok)

	retryCfg, _ := Lookup(RetryQueueScheduled)
	assert.True(t, retryCfg.IsScheduled())
	assert.Equal(t, "TRIGGER_TIME_RETRY_QUEUE", retryCfg.TimeKey)

	for _, b := range Backstops() {
		cfg, _ := Lookup(b)
		assert.Equal(t, KindBackstop, cfg.Kind)
		assert.False(t, cfg.IsScheduled())
	}
}

func TestShouldScheduleTrigger(t *testing.T) {
	first := ShouldScheduleTrigger(AnnouncementScheduled, nil, time.UnixMilli(1000))
	assert.True(t, first.ShouldSchedule)

	existing := time.UnixMilli(1000)
	same := ShouldScheduleTrigger(AnnouncementScheduled, &existing, time.UnixMilli(1000))
	assert.False(t, same.ShouldSchedule)
	assert.NotEmpty(t, same.Reason)

	moved := ShouldScheduleTrigger(AnnouncementScheduled, &existing, time.UnixMilli(2000))
	assert.True(t, moved.ShouldSchedule)
}

func TestShouldScheduleTrigger_SubMillisecondIsSameTime(t *testing.T) {
	existing := time.UnixMilli(5000)
	next := existing.Add(300 * time.Microsecond)
	assert.False(t, ShouldScheduleTrigger(RetryQueueScheduled, &existing, next).ShouldSchedule)
}

func TestShouldScheduleTrigger_Backstop(t *testing.T) {
	d := ShouldScheduleTrigger(DailyRetryCheck, nil, time.UnixMilli(1000))
	assert.False(t, d.ShouldSchedule)
	assert.Contains(t, d.Reason, "fixed schedule")

	d = ShouldScheduleTrigger("bogus", nil, time.UnixMilli(1000))
	assert.False(t, d.ShouldSchedule)
}

func TestShouldRemoveTrigger(t *testing.T) {
	assert.True(t, ShouldRemoveTrigger(RetryQueueScheduled, false).ShouldRemove)
	assert.False(t, ShouldRemoveTrigger(RetryQueueScheduled, true).ShouldRemove)
	assert.False(t, ShouldRemoveTrigger(DailyRetryCheck, false).ShouldRemove)
	assert.False(t, ShouldRemoveTrigger(OnOpen, false).ShouldRemove)
	assert.False(t, ShouldRemoveTrigger("bogus", false).ShouldRemove)
}

func TestValidateInstallation(t *testing.T) {
	assert.True(t, ValidateInstallation("owner@club.org", "owner@club.org").Valid)
	assert.True(t, ValidateInstallation(" Owner@Club.org ", "owner@club.org").Valid)

	v := ValidateInstallation("someone@club.org", "owner@club.org")
	assert.False(t, v.Valid)
	assert.Contains(t, v.Error, "owner@club.org")

	assert.False(t, ValidateInstallation("", "owner@club.org").Valid)
	assert.False(t, ValidateInstallation("owner@club.org", "").Valid)
}

func TestBuildInstallationSummary(t *testing.T) {
	summary := BuildInstallationSummary([]InstallResult{
		{Type: DailyRetryCheck, Outcome: OutcomeInstalled},
		{Type: DailyAnnouncementCheck, Outcome: OutcomeExisted},
		{Type: RetryQueueScheduled, Outcome: OutcomeFailed, Error: "no handler"},
		{Type: AnnouncementScheduled, Outcome: OutcomeFailed},
	})

	assert.Equal(t, 1, summary.Installed)
	assert.Equal(t, 1, summary.Existed)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, []string{
		"dailyRetryCheck: installed",
		"dailyAnnouncementCheck: already installed",
		"retryQueueScheduled: failed (no handler)",
		"announcementScheduled: failed (unknown error)",
	}, summary.Details)

	empty := BuildInstallationSummary(nil)
	assert.Zero(t, empty.Installed+empty.Existed+empty.Failed)
	assert.Empty(t, empty.Details)
}
