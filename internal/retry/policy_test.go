package retry

import (
	"testing"
	"time"

	"ridesched/internal/models"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func TestCalculateNextRetry(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    time.Duration
		ok      bool
	}{
		{"immediately", 0, 5 * time.Minute, true},
		{"thirty minutes", 30 * time.Minute, 5 * time.Minute, true},
		{"just under an hour", time.Hour - time.Millisecond, 5 * time.Minute, true},
		{"exactly one hour", time.Hour, 60 * time.Minute, true},
		{"two hours", 2 * time.Hour, 60 * time.Minute, true},
		{"just under two days", 48*time.Hour - time.Millisecond, 60 * time.Minute, true},
		{"exactly two days", 48 * time.Hour, 0, false},
		{"three days", 72 * time.Hour, 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			now := t0.Add(tc.elapsed)
			next, ok := CalculateNextRetry(1, t0, now)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, now.Add(tc.want), next)
			} else {
				assert.True(t, next.IsZero())
			}
		})
	}
}

func TestCalculateNextRetry_CeilingIgnoresAttempts(t *testing.T) {
	now := t0.Add(49 * time.Hour)
	for _, attempts := range []int{0, 1, 7, 500} {
		_, ok := CalculateNextRetry(attempts, t0, now)
		assert.False(t, ok, "attempts %d", attempts)
	}
}

func TestCalculateNextRetry_AlwaysAfterEnqueue(t *testing.T) {
	for minutes := 0; minutes < 48*60; minutes += 37 {
		next, ok := CalculateNextRetry(1, t0, t0.Add(time.Duration(minutes)*time.Minute))
		if assert.True(t, ok) {
			assert.True(t, next.After(t0))
		}
	}
}

func TestCalculateNextRetry_NowBeforeEnqueue(t *testing.T) {
	for _, skew := range []time.Duration{time.Second, 5 * time.Minute, 2 * time.Hour} {
		next, ok := CalculateNextRetry(1, t0, t0.Add(-skew))
		assert.True(t, ok)
		assert.Equal(t, t0.Add(5*time.Minute), next, "skew %s", skew)
	}
}

func TestPolicy_CustomValues(t *testing.T) {
	p := Policy{FastInterval: time.Minute, SlowInterval: 10 * time.Minute, FastWindow: 5 * time.Minute, MaxAge: time.Hour}

	next, ok := p.NextRetry(1, t0, t0.Add(4*time.Minute))
	assert.True(t, ok)
	assert.Equal(t, t0.Add(5*time.Minute), next)

	next, ok = p.NextRetry(2, t0, t0.Add(5*time.Minute))
	assert.True(t, ok)
	assert.Equal(t, t0.Add(15*time.Minute), next)

	_, ok = p.NextRetry(3, t0, t0.Add(time.Hour))
	assert.False(t, ok)
}

func TestPolicy_ZeroValueUsesDefaults(t *testing.T) {
	var p Policy
	assert.Equal(t, t0.Add(5*time.Minute), p.FirstRetry(t0))

	next, ok := p.NextRetry(1, t0, t0.Add(2*time.Hour))
	assert.True(t, ok)
	assert.Equal(t, t0.Add(3*time.Hour), next)
}

func TestDeriveStatus(t *testing.T) {
	ts := t0

	assert.Equal(t, models.StatusPending, DeriveStatus(0, nil))
	assert.Equal(t, models.StatusPending, DeriveStatus(0, &ts))
	assert.Equal(t, models.StatusRetrying, DeriveStatus(3, &ts))
	assert.Equal(t, models.StatusFailed, DeriveStatus(3, nil))
}
